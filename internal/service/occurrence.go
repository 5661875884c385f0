package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleetsync/internal/models"
	"fleetsync/internal/repository"
)

// ErrInvalidOccurrence wraps every validation failure of Record.
var ErrInvalidOccurrence = errors.New("invalid occurrence")

type OccurrenceService struct {
	Repo   repository.OccurrenceStore
	Logger *zap.Logger
	Now    func() time.Time
}

// Record stores an incident. Id and timestamps are assigned here; the
// occurrence time defaults to now.
func (s *OccurrenceService) Record(ctx context.Context, item models.Occurrence) (*models.Occurrence, error) {
	item.Driver = strings.TrimSpace(item.Driver)
	item.Route = strings.TrimSpace(item.Route)
	item.Reason = strings.TrimSpace(item.Reason)
	if item.Driver == "" && item.Route == "" {
		return nil, fmt.Errorf("%w: driver or route is required", ErrInvalidOccurrence)
	}
	if item.Reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidOccurrence)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	item.ID = uuid.NewString()
	item.CreatedAt = now().UTC()
	if item.OccurredAt.IsZero() {
		item.OccurredAt = item.CreatedAt
	}
	if err := s.Repo.InsertOccurrence(ctx, &item); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("occurrence recorded",
			zap.String("id", item.ID),
			zap.String("route", item.Route),
			zap.String("reason", item.Reason),
		)
	}
	return &item, nil
}

func (s *OccurrenceService) List(ctx context.Context, params repository.ListOccurrencesParams) ([]models.Occurrence, int64, error) {
	items, err := s.Repo.ListOccurrences(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountOccurrences(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
