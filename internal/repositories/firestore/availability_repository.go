package firestore

import (
	"context"
	"errors"

	domain "github.com/marketlane/api/internal/domain"
	pfirestore "github.com/marketlane/api/internal/platform/firestore"
	"github.com/marketlane/api/internal/repositories"
)

const sellerAvailabilityCollection = "sellerAvailability"

// AvailabilityRepository keys availability documents by seller id.
type AvailabilityRepository struct {
	base  *pfirestore.BaseRepository[availabilityDocument]
	retry pfirestore.RetryPolicy
}

var _ repositories.AvailabilityRepository = (*AvailabilityRepository)(nil)

func NewAvailabilityRepository(provider *pfirestore.Provider, retry pfirestore.RetryPolicy) (*AvailabilityRepository, error) {
	if provider == nil {
		return nil, errors.New("availability repository requires firestore provider")
	}
	return &AvailabilityRepository{
		base:  pfirestore.NewBaseRepository[availabilityDocument](provider, sellerAvailabilityCollection, nil, nil),
		retry: retry,
	}, nil
}

func (r *AvailabilityRepository) Get(ctx context.Context, sellerID string) (domain.SellerAvailability, error) {
	doc, err := pfirestore.Retry(ctx, r.retry, func(ctx context.Context) (pfirestore.Document[availabilityDocument], error) {
		return r.base.Get(ctx, sellerID)
	})
	if err != nil {
		return domain.SellerAvailability{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *AvailabilityRepository) GetMany(ctx context.Context, sellerIDs []string) (map[string]domain.SellerAvailability, error) {
	ids := uniqueIDs(sellerIDs)
	docs, err := pfirestore.Retry(ctx, r.retry, func(ctx context.Context) ([]pfirestore.Document[availabilityDocument], error) {
		return r.base.GetAll(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.SellerAvailability, len(docs))
	for _, doc := range docs {
		availability, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = availability
	}
	return out, nil
}

func (r *AvailabilityRepository) Save(ctx context.Context, availability domain.SellerAvailability) error {
	return r.base.Set(ctx, availability.SellerID, newAvailabilityDocument(availability))
}

// CreateIfAbsent uses a Firestore create so a record written by the seller in the meantime is
// kept and returned instead.
func (r *AvailabilityRepository) CreateIfAbsent(ctx context.Context, availability domain.SellerAvailability) (domain.SellerAvailability, bool, error) {
	err := r.base.Create(ctx, availability.SellerID, newAvailabilityDocument(availability))
	switch {
	case err == nil:
		return availability, true, nil
	case pfirestore.IsAlreadyExists(err):
		existing, err := r.Get(ctx, availability.SellerID)
		return existing, false, err
	default:
		return domain.SellerAvailability{}, false, err
	}
}
