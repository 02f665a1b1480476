// Package categories binds seating-chart category keys to ticket types.
package categories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ms-checkout/internal/clock"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

type Store interface {
	ReplaceMappings(ctx context.Context, eventID string, mappings []models.CategoryMapping) error
	Mapping(ctx context.Context, eventID, categoryKey string) (*models.CategoryMapping, error)
	Mappings(ctx context.Context, eventID string) ([]models.CategoryMapping, error)
	TicketTypes(ctx context.Context, ids []string) ([]models.TicketType, error)
	ChartForEvent(ctx context.Context, eventID string) (*models.Chart, error)
	SaveChart(ctx context.Context, chart *models.Chart) error
	Seat(ctx context.Context, eventID, seatID string) (*models.Seat, error)
}

// Mapping is one requested binding.
type Mapping struct {
	CategoryKey  string `json:"category_key"`
	TicketTypeID string `json:"ticket_type_id"`
}

type Mapper struct {
	store Store
	clock clock.Clock
	log   *logger.Logger
}

func NewMapper(store Store, clk clock.Clock, log *logger.Logger) *Mapper {
	return &Mapper{store: store, clock: clk, log: log}
}

// MapCategories replaces the full mapping set of an event. Nothing is stored unless
// every mapping is valid.
func (m *Mapper) MapCategories(ctx context.Context, eventID string, mappings []Mapping) error {
	if eventID == "" {
		return fmt.Errorf("event id required: %w", models.ErrInvalidInput)
	}

	seen := make(map[string]struct{}, len(mappings))
	typeIDs := make([]string, 0, len(mappings))
	rows := make([]models.CategoryMapping, 0, len(mappings))
	for _, mp := range mappings {
		key := strings.TrimSpace(mp.CategoryKey)
		if key == "" || mp.TicketTypeID == "" {
			return fmt.Errorf("mapping needs category key and ticket type: %w", models.ErrInvalidInput)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("category %q mapped twice: %w", key, models.ErrInvalidInput)
		}
		seen[key] = struct{}{}
		typeIDs = append(typeIDs, mp.TicketTypeID)
		rows = append(rows, models.CategoryMapping{EventID: eventID, CategoryKey: key, TicketTypeID: mp.TicketTypeID})
	}

	types, err := m.store.TicketTypes(ctx, typeIDs)
	if err != nil {
		return err
	}
	byID := make(map[string]models.TicketType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}
	for _, row := range rows {
		t, ok := byID[row.TicketTypeID]
		if !ok {
			return fmt.Errorf("ticket type %s: %w", row.TicketTypeID, models.ErrNotFound)
		}
		if t.EventID != eventID {
			return fmt.Errorf("ticket type %s belongs to event %s: %w", t.ID, t.EventID, models.ErrInvalidInput)
		}
	}

	chart, err := m.store.ChartForEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if chart != nil {
		declared := make(map[string]struct{}, len(chart.CategoryKeys))
		for _, k := range chart.CategoryKeys {
			declared[k] = struct{}{}
		}
		for _, row := range rows {
			if _, ok := declared[row.CategoryKey]; !ok {
				return fmt.Errorf("category %q not in chart %s: %w", row.CategoryKey, chart.ChartKey, models.ErrInvalidInput)
			}
		}
	}

	if err := m.store.ReplaceMappings(ctx, eventID, rows); err != nil {
		return err
	}
	m.log.Info("CATEGORY", fmt.Sprintf("Event %s mapped %d categories", eventID, len(rows)))
	return nil
}

// Resolve returns the ticket type bound to a category.
func (m *Mapper) Resolve(ctx context.Context, eventID, categoryKey string) (string, error) {
	mp, err := m.store.Mapping(ctx, eventID, categoryKey)
	if errors.Is(err, models.ErrNotFound) {
		return "", fmt.Errorf("event %s category %q: %w", eventID, categoryKey, models.ErrUnmappedCategory)
	}
	if err != nil {
		return "", err
	}
	return mp.TicketTypeID, nil
}

// ResolveSeat maps a selected seat to its ticket type through the seat's category.
func (m *Mapper) ResolveSeat(ctx context.Context, eventID, seatID string) (string, error) {
	seat, err := m.store.Seat(ctx, eventID, seatID)
	if err != nil {
		return "", err
	}
	return m.Resolve(ctx, eventID, seat.CategoryKey)
}

func (m *Mapper) Mappings(ctx context.Context, eventID string) ([]models.CategoryMapping, error) {
	return m.store.Mappings(ctx, eventID)
}

// RegisterChart records a chart published by the seat designer.
func (m *Mapper) RegisterChart(ctx context.Context, signal models.ChartPublished) error {
	if signal.ChartKey == "" {
		return fmt.Errorf("chart key required: %w", models.ErrInvalidInput)
	}
	keys := dedupe(signal.CategoryKeys)
	chart := &models.Chart{
		ChartKey:     signal.ChartKey,
		VenueID:      signal.VenueID,
		EventID:      signal.EventID,
		CategoryKeys: keys,
		PublishedAt:  m.clock.Now(),
	}
	if err := m.store.SaveChart(ctx, chart); err != nil {
		return err
	}
	m.log.Info("CATEGORY", fmt.Sprintf("Chart %s published for venue %s with %d categories", chart.ChartKey, chart.VenueID, len(keys)))
	return nil
}

// MissingCategories lists chart categories of the event with no ticket type bound.
// Checkout for those seats would fail with ErrUnmappedCategory.
func (m *Mapper) MissingCategories(ctx context.Context, eventID string) ([]string, error) {
	chart, err := m.store.ChartForEvent(ctx, eventID)
	if err != nil || chart == nil {
		return nil, err
	}
	mappings, err := m.store.Mappings(ctx, eventID)
	if err != nil {
		return nil, err
	}
	mapped := make(map[string]struct{}, len(mappings))
	for _, mp := range mappings {
		mapped[mp.CategoryKey] = struct{}{}
	}
	var missing []string
	for _, k := range chart.CategoryKeys {
		if _, ok := mapped[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

func dedupe(keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := set[k]; ok {
			continue
		}
		set[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
