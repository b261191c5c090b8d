package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_Level(t *testing.T) {
	require.Equal(t, logrus.WarnLevel, NewWithOutput("warn", &bytes.Buffer{}).GetLevel())
	require.Equal(t, logrus.InfoLevel, NewWithOutput("loud", &bytes.Buffer{}).GetLevel())
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("info", &buf)

	LogError(log, "core", "Propagate", "recompute failed", map[string]int{"product_id": 3}, errors.New("missing freight"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "error", rec["level"])
	require.Equal(t, "missing freight", rec["msg"])
	require.Equal(t, "core", rec["module"])
	require.Equal(t, "Propagate", rec["funcName"])
	require.Equal(t, "recompute failed", rec["context"])
	require.Equal(t, map[string]any{"product_id": float64(3)}, rec["data"])
}

func TestLogError_OmitsNilData(t *testing.T) {
	var buf bytes.Buffer
	LogError(NewWithOutput("info", &buf), "web", "health", "ping", nil, errors.New("down"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	_, ok := rec["data"]
	require.False(t, ok)
}
