package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"commodity-desk/internal/core"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestSnapshotPublisher_PublishesEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "cnf-snapshots")
	require.NoError(t, err)

	pub, err := NewSnapshotPublisher(topic)
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	ev := core.SnapshotEvent{
		SnapshotID: 3,
		ProductID:  11,
		ArchiveID:  42,
		Trend:      14,
		Forecast:   core.ForecastRising,
		Changed: map[core.Destination]core.PriceChange{
			core.DestinationChina: {Old: decimal.RequireFromString("7"), New: decimal.RequireFromString("8")},
		},
		TriggeredBy: "alice",
		OccurredAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishSnapshotUpdated(ctx, ev))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "snapshot.updated", msgs[0].Attributes["event"])
	require.Equal(t, "42", msgs[0].Attributes["archiveId"])
	require.Equal(t, "11", msgs[0].Attributes["productId"])
	require.Equal(t, "Rising", msgs[0].Attributes["forecast"])

	var got core.SnapshotEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, ev.ArchiveID, got.ArchiveID)
	require.Equal(t, "8", got.Changed[core.DestinationChina].New.String())
}

func TestSnapshotPublisher_RequiresTopic(t *testing.T) {
	_, err := NewSnapshotPublisher(nil)
	require.Error(t, err)

	var p *SnapshotPublisher
	require.Error(t, p.PublishSnapshotUpdated(context.Background(), core.SnapshotEvent{}))
	require.NoError(t, p.Close())
}

func TestDial_RequiresProjectAndTopic(t *testing.T) {
	_, err := Dial(context.Background(), "", "topic", "")
	require.Error(t, err)
	_, err = Dial(context.Background(), "project", "", "")
	require.Error(t, err)
}
