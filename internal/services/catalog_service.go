package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/textutil"
	"github.com/marketlane/api/internal/repositories"
)

const (
	productIDPrefix   = "prd_"
	productNameLimit  = 200
	productImageLimit = 2048
)

// CatalogServiceDeps bundles collaborators for the catalog service.
type CatalogServiceDeps struct {
	Products     repositories.ProductRepository
	Availability repositories.AvailabilityRepository
	Location     *time.Location
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products     repositories.ProductRepository
	availability repositories.AvailabilityRepository
	location     *time.Location
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Availability == nil {
		return nil, errors.New("catalog service: availability repository is required")
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return productIDPrefix + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products:     deps.Products,
		availability: deps.Availability,
		location:     location,
		newID:        idGen,
		logger:       logger,
	}, nil
}

// ResolveVisibility evaluates the listing as a checkout at now would.
func (s *catalogService) ResolveVisibility(ctx context.Context, productID string, now time.Time) (Visibility, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Visibility{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Visibility{}, mapRepositoryError(err)
	}
	state, err := s.loadAvailability(ctx, product.SellerID)
	if err != nil {
		return Visibility{}, err
	}
	return domain.ResolveVisibility(product, state, now.In(s.location)), nil
}

// ListSellerProducts returns the storefront listing: only visible products, each with its quoted
// delivery delay.
func (s *catalogService) ListSellerProducts(ctx context.Context, sellerID string, now time.Time) ([]VisibleProduct, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller id is required", ErrValidation)
	}

	var (
		products []Product
		state    *SellerAvailability
	)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		list, err := s.products.ListBySeller(gctx, sellerID)
		if err != nil {
			return mapRepositoryError(err)
		}
		products = list
		return nil
	})
	group.Go(func() error {
		loaded, err := s.loadAvailability(gctx, sellerID)
		state = loaded
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	storeNow := now.In(s.location)
	visible := make([]VisibleProduct, 0, len(products))
	for _, product := range products {
		result := domain.ResolveVisibility(product, state, storeNow)
		if result.Visible {
			visible = append(visible, VisibleProduct{Product: product, DeliveryDelayDays: result.DeliveryDelayDays})
		}
	}
	return visible, nil
}

// UpsertProduct creates or edits a listing. Seller edits go back to moderation; admin edits keep
// the current approval.
func (s *catalogService) UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	actor := cmd.Actor
	if strings.TrimSpace(actor.ID) == "" || (!actor.IsAdmin && !actor.IsSeller) {
		return Product{}, fmt.Errorf("%w: only sellers and admins maintain listings", ErrForbidden)
	}

	name := textutil.SanitizeText(cmd.Name, productNameLimit)
	switch {
	case name == "":
		return Product{}, fmt.Errorf("%w: name is required", ErrValidation)
	case cmd.Price.IsNegative():
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrValidation)
	case cmd.Stock < 0:
		return Product{}, fmt.Errorf("%w: stock must not be negative", ErrValidation)
	case len(cmd.ImageURL) > productImageLimit:
		return Product{}, fmt.Errorf("%w: imageUrl is too long", ErrValidation)
	}

	sellerID := strings.TrimSpace(cmd.SellerID)
	if !actor.IsAdmin {
		sellerID = actor.ID
	}
	if sellerID == "" {
		return Product{}, fmt.Errorf("%w: seller id is required", ErrValidation)
	}

	product := Product{
		ID:       strings.TrimSpace(cmd.ProductID),
		SellerID: sellerID,
		Name:     name,
		Price:    cmd.Price.Round(moneyScale),
		Stock:    cmd.Stock,
		Active:   cmd.Active,
		Approval: domain.ApprovalPending,
		ImageURL: strings.TrimSpace(cmd.ImageURL),
	}

	if product.ID == "" {
		product.ID = s.newID()
		if actor.IsAdmin {
			product.Approval = domain.ApprovalApproved
		}
	} else {
		existing, err := s.products.FindByID(ctx, product.ID)
		switch {
		case err == nil:
			if !actor.IsAdmin && existing.SellerID != actor.ID {
				return Product{}, fmt.Errorf("%w: product %s belongs to another seller", ErrForbidden, product.ID)
			}
			if actor.IsAdmin {
				product.SellerID = existing.SellerID
				product.Approval = existing.Approval
			}
		case isRepoNotFound(err):
			if actor.IsAdmin {
				product.Approval = domain.ApprovalApproved
			}
		default:
			return Product{}, mapRepositoryError(err)
		}
	}

	saved, err := s.products.Upsert(ctx, product)
	if err != nil {
		return Product{}, mapRepositoryError(err)
	}
	s.logger(ctx, "product_upserted", map[string]any{
		"productId": saved.ID,
		"sellerId":  saved.SellerID,
		"actorId":   actor.ID,
		"approval":  string(saved.Approval),
		"active":    saved.Active,
	})
	return saved, nil
}

func (s *catalogService) SetApproval(ctx context.Context, cmd SetApprovalCommand) (Product, error) {
	if !cmd.Actor.IsAdmin {
		return Product{}, fmt.Errorf("%w: approval requires an admin", ErrForbidden)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	if !cmd.Approval.IsValid() {
		return Product{}, fmt.Errorf("%w: unknown approval %q", ErrValidation, cmd.Approval)
	}
	product, err := s.products.UpdateApproval(ctx, productID, cmd.Approval)
	if err != nil {
		return Product{}, mapRepositoryError(err)
	}
	s.logger(ctx, "product_approval_changed", map[string]any{
		"productId": productID,
		"approval":  string(cmd.Approval),
		"actorId":   cmd.Actor.ID,
	})
	return product, nil
}

// loadAvailability returns nil when the seller has no stored record; the resolver substitutes
// the default.
func (s *catalogService) loadAvailability(ctx context.Context, sellerID string) (*SellerAvailability, error) {
	record, err := s.availability.Get(ctx, sellerID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, nil
		}
		return nil, mapRepositoryError(err)
	}
	return &record, nil
}

func isRepoNotFound(err error) bool {
	repoErr, ok := repositories.AsRepositoryError(err)
	return ok && repoErr.IsNotFound()
}
