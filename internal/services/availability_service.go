package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/repositories"
)

const maxExtendDays = 60

// AvailabilityServiceDeps bundles collaborators for the availability service.
type AvailabilityServiceDeps struct {
	Availability repositories.AvailabilityRepository
	Dashboards   DashboardInvalidator
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type availabilityService struct {
	availability repositories.AvailabilityRepository
	dashboards   DashboardInvalidator
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)
}

var _ AvailabilityService = (*availabilityService)(nil)

func NewAvailabilityService(deps AvailabilityServiceDeps) (AvailabilityService, error) {
	if deps.Availability == nil {
		return nil, errors.New("availability service: availability repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &availabilityService{
		availability: deps.Availability,
		dashboards:   deps.Dashboards,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetAvailability creates the default record on first access. A record the seller saved after
// the miss wins over the default.
func (s *availabilityService) GetAvailability(ctx context.Context, sellerID string) (SellerAvailability, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return SellerAvailability{}, fmt.Errorf("%w: seller id is required", ErrValidation)
	}
	record, err := s.availability.Get(ctx, sellerID)
	if err == nil {
		return record, nil
	}
	if !isRepoNotFound(err) {
		return SellerAvailability{}, mapRepositoryError(err)
	}

	record = domain.DefaultAvailability(sellerID)
	record.UpdatedAt = s.clock()
	stored, created, err := s.availability.CreateIfAbsent(ctx, record)
	if err != nil {
		return SellerAvailability{}, mapRepositoryError(err)
	}
	if created {
		s.logger(ctx, "availability_initialised", map[string]any{"sellerId": sellerID})
	}
	return stored, nil
}

// UpdateAvailability replaces the record. Only the owning seller may change it.
func (s *availabilityService) UpdateAvailability(ctx context.Context, cmd UpdateAvailabilityCommand) (SellerAvailability, error) {
	sellerID := strings.TrimSpace(cmd.SellerID)
	if sellerID == "" {
		sellerID = cmd.Actor.ID
	}
	if !cmd.Actor.IsSeller || cmd.Actor.ID == "" || cmd.Actor.ID != sellerID {
		return SellerAvailability{}, fmt.Errorf("%w: availability may only be changed by its seller", ErrForbidden)
	}

	mode, err := domain.ParseMode(cmd.Mode, cmd.HolidayDate, cmd.VacationStart, cmd.VacationEnd)
	if err != nil {
		return SellerAvailability{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	handling, err := domain.ParseHandling(cmd.Handling)
	if err != nil {
		return SellerAvailability{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cmd.ExtendDays < 0 || cmd.ExtendDays > maxExtendDays {
		return SellerAvailability{}, fmt.Errorf("%w: extendDays must be between 0 and %d", ErrValidation, maxExtendDays)
	}

	record := SellerAvailability{
		SellerID:  sellerID,
		Paused:    cmd.Paused,
		Mode:      mode,
		Handling:  domain.HandlingPolicy{Kind: handling, ExtendDays: cmd.ExtendDays},
		UpdatedAt: s.clock(),
	}
	if err := s.availability.Save(ctx, record); err != nil {
		return SellerAvailability{}, mapRepositoryError(err)
	}

	if s.dashboards != nil {
		s.dashboards.Invalidate(ctx, sellerID)
	}
	kind, _, _, _ := domain.FormatMode(mode)
	s.logger(ctx, "availability_updated", map[string]any{
		"sellerId":   sellerID,
		"paused":     record.Paused,
		"mode":       string(kind),
		"handling":   string(handling),
		"extendDays": cmd.ExtendDays,
	})
	return record, nil
}
