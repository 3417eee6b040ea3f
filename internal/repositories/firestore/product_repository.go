package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/marketlane/api/internal/domain"
	pfirestore "github.com/marketlane/api/internal/platform/firestore"
	"github.com/marketlane/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads and maintains product documents. Reads retry on transient outages.
type ProductRepository struct {
	base  *pfirestore.BaseRepository[productDocument]
	retry pfirestore.RetryPolicy
	now   func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider, retry pfirestore.RetryPolicy, now func() time.Time) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	if now == nil {
		now = time.Now
	}
	return &ProductRepository{
		base:  pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		retry: retry,
		now:   now,
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := pfirestore.Retry(ctx, r.retry, func(ctx context.Context) (pfirestore.Document[productDocument], error) {
		return r.base.Get(ctx, productID)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	ids := uniqueIDs(productIDs)
	docs, err := pfirestore.Retry(ctx, r.retry, func(ctx context.Context) ([]pfirestore.Document[productDocument], error) {
		return r.base.GetAll(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(docs))
	for _, doc := range docs {
		product, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = product
	}
	return out, nil
}

func (r *ProductRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error) {
	docs, err := pfirestore.Retry(ctx, r.retry, func(ctx context.Context) ([]pfirestore.Document[productDocument], error) {
		return r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("sellerId", "==", sellerID).OrderBy("name", firestore.Asc)
		})
	})
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

// Upsert writes the listing inside a transaction so createdAt survives edits.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	ref, err := r.base.DocumentRef(ctx, product.ID)
	if err != nil {
		return domain.Product{}, err
	}
	now := r.now().UTC()
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing productDocument
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			product.CreatedAt = existing.CreatedAt
		case status.Code(err) == codes.NotFound:
			product.CreatedAt = now
		default:
			return err
		}
		product.UpdatedAt = now
		return tx.Set(ref, newProductDocument(product))
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.upsert", err)
	}
	return product, nil
}

func (r *ProductRepository) UpdateApproval(ctx context.Context, productID string, approval domain.ApprovalStatus) (domain.Product, error) {
	ref, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	var updated domain.Product
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		now := r.now().UTC()
		doc.Approval = string(approval)
		doc.UpdatedAt = now
		if updated, err = doc.toDomain(productID); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "approval", Value: string(approval)},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.update_approval", err)
	}
	return updated, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
