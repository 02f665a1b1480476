package holds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-checkout/internal/clock"
	"ms-checkout/internal/database"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

const (
	defaultHoldTTL   = 10 * time.Minute
	defaultMaxTTL    = 30 * time.Minute
	defaultAuditTail = 24 * time.Hour
	defaultBatch     = 200
	// defaultOrphanGrace is how long past expiry journaled units may outlive their
	// hold before the sweep reclaims them.
	defaultOrphanGrace = time.Minute
)

type Manager struct {
	db       *bun.DB
	store    Store
	ledger   inventory.Ledger
	catalog  Catalog
	resolver Resolver
	clock    clock.Clock
	log      *logger.Logger
	observer Observer

	defaultTTL  time.Duration
	maxTTL      time.Duration
	auditTail   time.Duration
	orphanGrace time.Duration
	batch       int
}

type Option func(*Manager)

// WithTTL sets the default and maximum hold lifetimes.
func WithTTL(def, max time.Duration) Option {
	return func(m *Manager) {
		if def > 0 {
			m.defaultTTL = def
		}
		if max > 0 {
			m.maxTTL = max
		}
	}
}

func WithAuditTail(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.auditTail = d
		}
	}
}

func WithSweepBatch(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batch = n
		}
	}
}

func WithOrphanGrace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.orphanGrace = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager wires the manager. db scopes the transaction shared by the hold
// transition and its ledger movement.
func NewManager(db *bun.DB, store Store, ledger inventory.Ledger, catalog Catalog, resolver Resolver, clk clock.Clock, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		db:          db,
		store:       store,
		ledger:      ledger,
		catalog:     catalog,
		resolver:    resolver,
		clock:       clk,
		log:         log,
		defaultTTL:  defaultHoldTTL,
		maxTTL:      defaultMaxTTL,
		auditTail:   defaultAuditTail,
		orphanGrace: defaultOrphanGrace,
		batch:       defaultBatch,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxTTL < m.defaultTTL {
		m.maxTTL = m.defaultTTL
	}
	return m
}

// ItemRequest is one cart line. Seat lines may omit the ticket type; it is
// resolved through the event's category mapping.
type ItemRequest struct {
	TicketTypeID string `json:"ticket_type_id,omitempty"`
	SeatID       string `json:"seat_id,omitempty"`
	Quantity     int    `json:"quantity"`
}

type CreateHoldRequest struct {
	RequesterID string        `json:"requester_id"`
	EventID     string        `json:"event_id"`
	Items       []ItemRequest `json:"items"`
}

// CreateHold validates the cart and reserves every line in one ledger call.
func (m *Manager) CreateHold(ctx context.Context, req CreateHoldRequest, ttl time.Duration) (*models.Hold, error) {
	if req.RequesterID == "" || req.EventID == "" || len(req.Items) == 0 {
		return nil, fmt.Errorf("requester, event and items are required: %w", models.ErrInvalidInput)
	}

	items, err := m.resolveItems(ctx, req)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	if err := m.validate(ctx, req.EventID, items, now); err != nil {
		return nil, err
	}

	hold := &models.Hold{
		ID:          uuid.NewString(),
		RequesterID: req.RequesterID,
		EventID:     req.EventID,
		Status:      models.HoldActive,
		Items:       items,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.clampTTL(ttl)),
		UpdatedAt:   now,
	}

	err = database.WithTx(ctx, m.db, func(ctx context.Context) error {
		if err := m.ledger.Reserve(ctx, m.lines(hold)); err != nil {
			return err
		}
		if err := m.store.Create(ctx, hold); err != nil {
			return fmt.Errorf("store hold: %w", err)
		}
		database.OnRollback(ctx, func(ctx context.Context) {
			if err := m.store.Delete(ctx, hold.ID); err != nil {
				m.log.Error("HOLD", fmt.Sprintf("Failed to drop hold %s after rollback: %v", hold.ID, err))
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.LogHold("create", hold.ID, fmt.Sprintf("requester=%s items=%d expires=%s", hold.RequesterID, len(hold.Items), hold.ExpiresAt.Format(time.RFC3339)))
	m.notify(ctx, hold, models.HoldActive)
	return hold, nil
}

func (m *Manager) resolveItems(ctx context.Context, req CreateHoldRequest) ([]models.HoldItem, error) {
	seats := make(map[string]struct{})
	items := make([]models.HoldItem, 0, len(req.Items))

	for _, it := range req.Items {
		if it.SeatID == "" {
			if it.TicketTypeID == "" {
				return nil, fmt.Errorf("item needs a ticket type or a seat: %w", models.ErrInvalidInput)
			}
			if it.Quantity <= 0 {
				return nil, fmt.Errorf("ticket type %s quantity %d: %w", it.TicketTypeID, it.Quantity, models.ErrLimitExceeded)
			}
			items = append(items, models.HoldItem{TicketTypeID: it.TicketTypeID, Quantity: it.Quantity})
			continue
		}

		if _, dup := seats[it.SeatID]; dup {
			return nil, fmt.Errorf("seat %s selected twice: %w", it.SeatID, models.ErrInvalidInput)
		}
		seats[it.SeatID] = struct{}{}
		if it.Quantity > 1 {
			return nil, fmt.Errorf("seat %s quantity %d: %w", it.SeatID, it.Quantity, models.ErrInvalidInput)
		}

		typeID, err := m.resolver.ResolveSeat(ctx, req.EventID, it.SeatID)
		if err != nil {
			return nil, err
		}
		if it.TicketTypeID != "" && it.TicketTypeID != typeID {
			return nil, fmt.Errorf("seat %s is sold as %s, not %s: %w", it.SeatID, typeID, it.TicketTypeID, models.ErrInvalidInput)
		}
		items = append(items, models.HoldItem{TicketTypeID: typeID, SeatID: it.SeatID, Quantity: 1})
	}
	return items, nil
}

func (m *Manager) validate(ctx context.Context, eventID string, items []models.HoldItem, now time.Time) error {
	ids := make([]string, 0, len(items))
	perType := make(map[string]int)
	for _, it := range items {
		if _, ok := perType[it.TicketTypeID]; !ok {
			ids = append(ids, it.TicketTypeID)
		}
		perType[it.TicketTypeID] += it.Quantity
	}

	types, err := m.catalog.TicketTypes(ctx, ids)
	if err != nil {
		return fmt.Errorf("load ticket types: %w", err)
	}
	byID := make(map[string]models.TicketType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}

	if err := m.rejectUnseatedLines(ctx, eventID, items); err != nil {
		return err
	}

	currency := ""
	for _, id := range ids {
		t, ok := byID[id]
		if !ok || t.EventID != eventID {
			return fmt.Errorf("ticket type %s for event %s: %w", id, eventID, models.ErrNotFound)
		}
		if !t.OnSale(now) {
			return fmt.Errorf("ticket type %s: %w", id, models.ErrOutOfWindow)
		}
		qty := perType[id]
		if (t.MinPerOrder > 0 && qty < t.MinPerOrder) || (t.MaxPerOrder > 0 && qty > t.MaxPerOrder) {
			return fmt.Errorf("ticket type %s quantity %d outside [%d, %d]: %w", id, qty, t.MinPerOrder, t.MaxPerOrder, models.ErrLimitExceeded)
		}
		if currency == "" {
			currency = t.Currency
		} else if currency != t.Currency {
			return fmt.Errorf("cart mixes %s and %s: %w", currency, t.Currency, models.ErrInvalidInput)
		}
	}

	for i := range items {
		t := byID[items[i].TicketTypeID]
		items[i].UnitPrice = t.UnitPrice
		items[i].Currency = t.Currency
	}
	return nil
}

// rejectUnseatedLines refuses quantity lines for ticket types sold through seats.
// Those units only move with a seat, so blocks and category mappings stay binding.
func (m *Manager) rejectUnseatedLines(ctx context.Context, eventID string, items []models.HoldItem) error {
	var ids []string
	for _, it := range items {
		if it.SeatID == "" {
			ids = append(ids, it.TicketTypeID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	seated, err := m.catalog.SeatedTicketTypes(ctx, eventID, ids)
	if err != nil {
		return fmt.Errorf("load seated ticket types: %w", err)
	}
	for _, id := range ids {
		if seated[id] {
			return fmt.Errorf("ticket type %s is sold by seat, select seats instead: %w", id, models.ErrInvalidInput)
		}
	}
	return nil
}

func (m *Manager) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	if ttl > m.maxTTL {
		ttl = m.maxTTL
	}
	return ttl
}

// Get returns the hold, expiring it first when its TTL has lapsed.
func (m *Manager) Get(ctx context.Context, id string) (*models.Hold, error) {
	h, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.Status == models.HoldActive && h.ExpiredAt(m.clock.Now()) {
		if _, err := m.Expire(ctx, id); err != nil {
			return nil, err
		}
		return m.store.Get(ctx, id)
	}
	return h, nil
}

// RenewHold pushes the expiry out by extension, never beyond the maximum TTL from now.
func (m *Manager) RenewHold(ctx context.Context, id string, extension time.Duration) (*models.Hold, error) {
	if extension <= 0 {
		return nil, fmt.Errorf("extension %s: %w", extension, models.ErrInvalidInput)
	}

	h, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.Status != models.HoldActive {
		return nil, notActive(h)
	}

	now := m.clock.Now()
	expiresAt := h.ExpiresAt.Add(extension)
	if limit := now.Add(m.maxTTL); expiresAt.After(limit) {
		expiresAt = limit
	}

	renewed, ok, err := m.store.Extend(ctx, id, expiresAt, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if renewed.Status == models.HoldActive && renewed.ExpiredAt(now) {
			if _, err := m.Expire(ctx, id); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("hold %s: %w: %w", id, models.ErrHoldNotActive, models.ErrHoldExpired)
		}
		return nil, notActive(renewed)
	}

	if err := m.ledger.ExtendSeatHolds(ctx, id, expiresAt); err != nil {
		m.log.Warn("HOLD", fmt.Sprintf("Seat expiry not refreshed for %s: %v", id, err))
	}
	m.log.LogHold("renew", id, "expires="+expiresAt.Format(time.RFC3339))
	return renewed, nil
}

// ReleaseHold abandons a cart. Releasing a hold that is already terminal succeeds.
func (m *Manager) ReleaseHold(ctx context.Context, id string) error {
	h, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if h.Status.Terminal() {
		return nil
	}
	if h.ExpiredAt(m.clock.Now()) {
		_, err := m.Expire(ctx, id)
		return err
	}

	_, won, err := m.transition(ctx, id, models.HoldReleased, GuardNotExpired)
	if err != nil || won {
		return err
	}
	// Lost the race: either someone else finished the hold or it just lapsed.
	_, err = m.Expire(ctx, id)
	return err
}

// ConvertHold commits every line of the hold as sold. A lapsed hold fails with
// models.ErrHoldExpired even if the sweep has not reached it yet.
func (m *Manager) ConvertHold(ctx context.Context, id string) (*models.Hold, error) {
	h, won, err := m.transition(ctx, id, models.HoldConverted, GuardNotExpired)
	if err != nil {
		return nil, err
	}
	if won {
		return h, nil
	}

	switch {
	case h.Status == models.HoldExpired:
		return nil, fmt.Errorf("hold %s: %w", id, models.ErrHoldExpired)
	case h.Status == models.HoldActive && h.ExpiredAt(m.clock.Now()):
		if !database.InTx(ctx) {
			if _, err := m.Expire(ctx, id); err != nil {
				m.log.Error("HOLD", fmt.Sprintf("Lazy expiry of %s failed: %v", id, err))
			}
		}
		return nil, fmt.Errorf("hold %s: %w", id, models.ErrHoldExpired)
	default:
		return nil, notActive(h)
	}
}

// Expire moves a lapsed active hold to expired. It reports whether this call did
// the work; holds that are not due, or already terminal, are left alone.
func (m *Manager) Expire(ctx context.Context, id string) (bool, error) {
	_, won, err := m.transition(ctx, id, models.HoldExpired, GuardExpired)
	return won, err
}

// ExpireDue is one sweep pass. It returns how many holds it expired.
func (m *Manager) ExpireDue(ctx context.Context) (int, error) {
	now := m.clock.Now()
	ids, err := m.store.DueForExpiry(ctx, now, m.batch)
	if err != nil {
		return 0, fmt.Errorf("list due holds: %w", err)
	}

	expired := 0
	for _, id := range ids {
		won, err := m.Expire(ctx, id)
		if err != nil {
			if !errors.Is(err, models.ErrHoldNotFound) {
				m.log.Error("SWEEP", fmt.Sprintf("Failed to expire hold %s: %v", id, err))
			}
			continue
		}
		if won {
			expired++
		}
	}

	if n := m.reclaimOrphans(ctx, now); n > 0 {
		m.log.Warn("SWEEP", fmt.Sprintf("Reclaimed units of %d orphaned holds", n))
	}

	purged, err := m.store.Purge(ctx, now.Add(-m.auditTail))
	if err != nil {
		m.log.Warn("SWEEP", fmt.Sprintf("Purge failed: %v", err))
	} else if purged > 0 {
		m.log.Debug("SWEEP", fmt.Sprintf("Purged %d terminal holds", purged))
	}
	return expired, nil
}

// reclaimOrphans frees units the ledger still counts as held for holds that the
// store has lost or already finished. That happens when a store outside the database
// committed a transition whose database transaction never did, or dropped a hold
// before the sweep saw it expire. It returns how many holders were reclaimed.
func (m *Manager) reclaimOrphans(ctx context.Context, now time.Time) int {
	refs, err := m.ledger.StaleHolders(ctx, now.Add(-m.orphanGrace), m.batch)
	if err != nil {
		m.log.Warn("SWEEP", fmt.Sprintf("Orphan scan failed: %v", err))
		return 0
	}

	reclaimed := 0
	for _, id := range refs {
		h, err := m.store.Get(ctx, id)
		switch {
		case errors.Is(err, models.ErrHoldNotFound):
		case err != nil:
			m.log.Error("SWEEP", fmt.Sprintf("Orphan check of %s failed: %v", id, err))
			continue
		case h.Status == models.HoldActive && h.ExpiredAt(now):
			if _, err := m.Expire(ctx, id); err != nil {
				m.log.Error("SWEEP", fmt.Sprintf("Failed to expire hold %s: %v", id, err))
			}
			continue
		case h.Status == models.HoldActive:
			if err := m.ledger.ExtendSeatHolds(ctx, id, h.ExpiresAt); err != nil {
				m.log.Warn("SWEEP", fmt.Sprintf("Journal expiry of %s not refreshed: %v", id, err))
			}
			continue
		}

		units, err := m.ledger.ReleaseHolder(ctx, id)
		if err != nil {
			m.log.Error("SWEEP", fmt.Sprintf("Failed to reclaim units of hold %s: %v", id, err))
			continue
		}
		if units > 0 {
			status := "missing"
			if h != nil {
				status = string(h.Status)
			}
			m.log.LogHold("reclaim", id, fmt.Sprintf("units=%d store_status=%s", units, status))
			reclaimed++
		}
	}
	return reclaimed
}

// transition is the single path out of active. The CAS and the matching ledger
// movement share one transaction; store writes outside the database are undone
// if that transaction rolls back.
func (m *Manager) transition(ctx context.Context, id string, to models.HoldStatus, guard Guard) (*models.Hold, bool, error) {
	var (
		result *models.Hold
		won    bool
	)

	err := database.WithTx(ctx, m.db, func(ctx context.Context) error {
		now := m.clock.Now()
		h, ok, err := m.store.Transition(ctx, id, to, guard, now)
		if err != nil {
			return err
		}
		result, won = h, ok
		if !ok {
			return nil
		}

		database.OnRollback(ctx, func(ctx context.Context) {
			if err := m.store.Restore(ctx, id, to, m.clock.Now()); err != nil {
				m.log.Error("HOLD", fmt.Sprintf("Failed to restore hold %s after rollback: %v", id, err))
			}
		})

		lines := m.lines(h)
		switch to {
		case models.HoldConverted:
			err = m.ledger.Commit(ctx, lines)
		case models.HoldReleased, models.HoldExpired:
			err = m.ledger.Release(ctx, lines)
		}
		if err != nil {
			return err
		}

		database.AfterCommit(ctx, func(ctx context.Context) {
			m.log.LogHold(string(to), id, fmt.Sprintf("items=%d", len(h.Items)))
			m.notify(ctx, h, to)
		})
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, won, nil
}

func (m *Manager) notify(ctx context.Context, h *models.Hold, to models.HoldStatus) {
	if m.observer != nil {
		m.observer.HoldTransitioned(ctx, h, to)
	}
}

func (m *Manager) lines(h *models.Hold) []inventory.Line {
	lines := make([]inventory.Line, 0, len(h.Items))
	for _, it := range h.Items {
		lines = append(lines, inventory.Line{
			Key:           inventory.Key{EventID: h.EventID, TicketTypeID: it.TicketTypeID, SeatID: it.SeatID},
			Quantity:      it.Quantity,
			HolderRef:     h.ID,
			HoldExpiresAt: h.ExpiresAt,
		})
	}
	return lines
}

func notActive(h *models.Hold) error {
	return fmt.Errorf("hold %s is %s: %w", h.ID, h.Status, models.ErrHoldNotActive)
}
