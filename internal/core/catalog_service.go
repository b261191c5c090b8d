package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CatalogService is the write path for products and cost components. Every save runs a
// propagation pass for the product in the same transaction.
type CatalogService interface {
	CreateProduct(ctx context.Context, input ProductInput, actor string) (*Product, *PropagationSummary, error)
	UpdateProduct(ctx context.Context, id int, input ProductInput, actor string) (*Product, *PropagationSummary, error)
	UpsertOperationCost(ctx context.Context, productID int, input OperationCostInput, actor string) (*PropagationSummary, error)
	UpsertGovernmentCost(ctx context.Context, productID int, input GovernmentCostInput, actor string) (*PropagationSummary, error)
	UpsertLocalTransport(ctx context.Context, productID int, input LocalTransportInput, actor string) (*PropagationSummary, error)
	UpsertInternationalTransport(ctx context.Context, productID int, dest Destination, input FreightInput, actor string) (*PropagationSummary, error)
	DeleteInternationalTransport(ctx context.Context, productID int, dest Destination, actor string) (*PropagationSummary, error)
	LinkSnapshot(ctx context.Context, productID, snapshotID int, actor string) (*PropagationSummary, error)
	UnlinkSnapshot(ctx context.Context, productID int) error
	GetProduct(ctx context.Context, id int) (*ProductDetail, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type catalogService struct {
	store      *CatalogStore
	propagator *Propagator
}

// NewCatalogService constructs a CatalogService backed by store and propagator.
func NewCatalogService(store *CatalogStore, propagator *Propagator) CatalogService {
	return &catalogService{store: store, propagator: propagator}
}

func (s *catalogService) CreateProduct(ctx context.Context, input ProductInput, actor string) (*Product, *PropagationSummary, error) {
	if err := Validate(input); err != nil {
		return nil, nil, err
	}
	var created *Product
	sum, err := s.propagator.WriteNew(ctx, actor, func(ctx context.Context, tx pgx.Tx) (int, error) {
		p, err := s.store.CreateProductTx(ctx, tx, input)
		if err != nil {
			return 0, err
		}
		created = p
		return p.ID, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, sum, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, id int, input ProductInput, actor string) (*Product, *PropagationSummary, error) {
	if err := Validate(input); err != nil {
		return nil, nil, err
	}
	var updated *Product
	sum, err := s.propagator.Write(ctx, id, actor, func(ctx context.Context, tx pgx.Tx) error {
		p, err := s.store.UpdateProductTx(ctx, tx, id, input)
		updated = p
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, sum, nil
}

func (s *catalogService) UpsertOperationCost(ctx context.Context, productID int, input OperationCostInput, actor string) (*PropagationSummary, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	return s.propagator.Write(ctx, productID, actor, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.UpsertOperationCostTx(ctx, tx, productID, input)
	})
}

func (s *catalogService) UpsertGovernmentCost(ctx context.Context, productID int, input GovernmentCostInput, actor string) (*PropagationSummary, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	return s.propagator.Write(ctx, productID, actor, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.UpsertGovernmentCostTx(ctx, tx, productID, input)
	})
}

func (s *catalogService) UpsertLocalTransport(ctx context.Context, productID int, input LocalTransportInput, actor string) (*PropagationSummary, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	return s.propagator.Write(ctx, productID, actor, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.UpsertLocalTransportTx(ctx, tx, productID, input)
	})
}

// UpsertInternationalTransport saves the freight leg to dest. The originating port is
// priced without freight and cannot carry a freight row.
func (s *catalogService) UpsertInternationalTransport(ctx context.Context, productID int, dest Destination, input FreightInput, actor string) (*PropagationSummary, error) {
	if !dest.CarriesFreight() {
		return nil, fmt.Errorf("%w: %s is priced FOB and takes no freight cost", ErrValidation, dest)
	}
	if err := Validate(input); err != nil {
		return nil, err
	}
	return s.propagator.Write(ctx, productID, actor, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.UpsertFreightTx(ctx, tx, productID, dest, input)
	})
}

// DeleteInternationalTransport removes the freight leg to dest. The ledger keeps the
// last current record for dest; later passes simply no longer price it.
func (s *catalogService) DeleteInternationalTransport(ctx context.Context, productID int, dest Destination, actor string) (*PropagationSummary, error) {
	return s.propagator.Write(ctx, productID, actor, func(ctx context.Context, tx pgx.Tx) error {
		deleted, err := s.store.DeleteFreightTx(ctx, tx, productID, dest)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: product %d has no freight row for %s", ErrMissingFreight, productID, dest)
		}
		return nil
	})
}

// LinkSnapshot attaches a snapshot and immediately fills it from a propagation pass.
func (s *catalogService) LinkSnapshot(ctx context.Context, productID, snapshotID int, actor string) (*PropagationSummary, error) {
	return s.propagator.Write(ctx, productID, actor, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.LinkSnapshotTx(ctx, tx, productID, snapshotID)
	})
}

func (s *catalogService) UnlinkSnapshot(ctx context.Context, productID int) error {
	err := s.propagator.withProduct(ctx, productID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.store.LockProductTx(ctx, tx, productID); err != nil {
			return err
		}
		return s.store.UnlinkSnapshotTx(ctx, tx, productID)
	})
	if err != nil {
		return err
	}
	s.propagator.cache.Invalidate(ctx, productID)
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, id int) (*ProductDetail, error) {
	return s.store.Detail(ctx, id)
}

func (s *catalogService) ListProducts(ctx context.Context) ([]Product, error) {
	return s.store.ListProducts(ctx)
}
