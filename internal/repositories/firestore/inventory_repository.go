package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/marketlane/api/internal/domain"
	pfirestore "github.com/marketlane/api/internal/platform/firestore"
	"github.com/marketlane/api/internal/repositories"
)

// checkout bursts on a single product contend on one document
const reserveTxAttempts = 10

// InventoryRepository is the stock ledger over the products collection. Reserve reads the
// product inside a transaction, so a concurrent decrement aborts and retries this one instead of
// both passing the check.
type InventoryRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
	now      func() time.Time
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

func NewInventoryRepository(provider *pfirestore.Provider, now func() time.Time) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	if now == nil {
		now = time.Now
	}
	return &InventoryRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		now:      now,
	}, nil
}

func (r *InventoryRepository) Reserve(ctx context.Context, productID string, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, productID, qty, 0)
	}
	ref, err := r.products.DocumentRef(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	var reserved domain.Product
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, qty, 0)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Stock < qty {
			return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, productID, qty, doc.Stock)
		}

		doc.Stock -= qty
		doc.UpdatedAt = r.now().UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: doc.Stock},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}); err != nil {
			return err
		}
		reserved, err = doc.toDomain(productID)
		return err
	}, pfirestore.WithTxAttempts(reserveTxAttempts))
	if err != nil {
		return domain.Product{}, wrapInventoryError("inventory.reserve", err)
	}
	return reserved, nil
}

// Release adds qty back with a server-side increment; no read is needed to stay correct.
func (r *InventoryRepository) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, productID, qty, 0)
	}
	ref, err := r.products.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "stock", Value: firestore.Increment(qty)},
		{Path: "updatedAt", Value: r.now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, qty, 0)
	}
	return wrapInventoryError("inventory.release", err)
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
