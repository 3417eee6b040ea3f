package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/marketlane/api/internal/domain"
	pfirestore "github.com/marketlane/api/internal/platform/firestore"
	"github.com/marketlane/api/internal/platform/pagination"
	"github.com/marketlane/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository stores orders with embedded items and status history.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
	retry    pfirestore.RetryPolicy
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider, retry pfirestore.RetryPolicy) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		retry:    retry,
	}, nil
}

// Insert creates the order document; an existing id is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := pfirestore.Retry(ctx, r.retry, func(ctx context.Context) (pfirestore.Document[orderDocument], error) {
		return r.orders.Get(ctx, orderID)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// ListByBuyer pages through a buyer's orders newest first. The document id breaks ties between
// orders placed at the same instant.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	docs, err := pfirestore.Retry(ctx, r.retry, func(ctx context.Context) ([]pfirestore.Document[orderDocument], error) {
		return r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
			q = q.Where("buyerId", "==", buyerID).
				OrderBy("placedAt", firestore.Desc).
				OrderBy(firestore.DocumentID, firestore.Desc)
			if !cursor.IsZero() {
				q = q.StartAfter(cursor.At, cursor.ID)
			}
			return q.Limit(pageSize + 1)
		})
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
	}
	return pageOf(orders, pageSize)
}

func (r *OrderRepository) ListBySellerPlacedBetween(ctx context.Context, sellerID string, from, to time.Time) ([]domain.Order, error) {
	docs, err := pfirestore.Retry(ctx, r.retry, func(ctx context.Context) ([]pfirestore.Document[orderDocument], error) {
		return r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("sellerIds", "array-contains", sellerID).
				Where("placedAt", ">=", from.UTC()).
				Where("placedAt", "<", to.UTC())
		})
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// a cancellation touches the order and every product it restocks
const transitionTxTimeout = 20 * time.Second

// Transition re-reads the order inside a transaction and applies the change only if the status
// is still the expected one. Inventory restoration is staged in the same transaction and guarded
// by the inventoryRestored flag, so a retried cancellation never adds stock twice.
func (r *OrderRepository) Transition(ctx context.Context, t repositories.OrderTransition) (domain.Order, error) {
	ref, err := r.orders.DocumentRef(ctx, t.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		decoded, err := r.orders.Decode(snap)
		if err != nil {
			return err
		}
		order, err := decoded.Data.toDomain(decoded.ID)
		if err != nil {
			return err
		}
		if order.Status != t.Expected {
			return repositories.NewConflictError("orders.transition", "order %s is %s, expected %s", t.OrderID, order.Status, t.Expected)
		}

		// reads must precede writes in a Firestore transaction
		var restock []stockIncrement
		if t.RestoreInventory && !order.InventoryRestored {
			restock, err = r.stagedIncrements(ctx, tx, order.Items)
			if err != nil {
				return err
			}
		}

		repositories.ApplyTransition(&order, t)

		for _, inc := range restock {
			if err := tx.Update(inc.ref, []firestore.Update{
				{Path: "stock", Value: firestore.Increment(inc.qty)},
				{Path: "updatedAt", Value: t.At.UTC()},
			}); err != nil {
				return err
			}
		}
		if err := tx.Set(ref, newOrderDocument(order)); err != nil {
			return err
		}
		updated = order
		return nil
	}, pfirestore.WithTxTimeout(transitionTxTimeout))
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.transition", err)
	}
	return updated, nil
}

type stockIncrement struct {
	ref *firestore.DocumentRef
	qty int
}

// stagedIncrements sums quantities per product and skips products that no longer exist.
func (r *OrderRepository) stagedIncrements(ctx context.Context, tx *firestore.Transaction, items []domain.OrderItem) ([]stockIncrement, error) {
	qty := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := qty[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		qty[item.ProductID] += item.Quantity
	}

	refs := make([]*firestore.DocumentRef, 0, len(order))
	for _, id := range order {
		ref, err := r.products.DocumentRef(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	snaps, err := tx.GetAll(refs)
	if err != nil {
		return nil, err
	}

	out := make([]stockIncrement, 0, len(snaps))
	for i, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		out = append(out, stockIncrement{ref: refs[i], qty: qty[order[i]]})
	}
	return out, nil
}

func pageOf(orders []domain.Order, pageSize int) (domain.CursorPage[domain.Order], error) {
	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) <= pageSize {
		return page, nil
	}
	page.Items = orders[:pageSize]
	last := page.Items[len(page.Items)-1]
	token, err := pagination.EncodeToken(pagination.Cursor{At: last.PlacedAt, ID: last.ID})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page.NextPageToken = token
	return page, nil
}
