package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-checkout/internal/clock"
	"ms-checkout/internal/database"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/tickets/db"
	"ms-checkout/internal/tickets/qr"
	"ms-checkout/internal/utils"
)

type TicketDBLayer interface {
	CreateTickets(ctx context.Context, tickets []*models.Ticket) error
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	MarkUsed(ctx context.Context, id, scannerID string, at time.Time) (bool, error)
	MarkTransferred(ctx context.Context, id, replacementID string) (bool, error)
	CancelTicketsByOrder(ctx context.Context, orderID string) (int, error)
	TicketType(ctx context.Context, id string) (*models.TicketType, error)
	CountsByEvent(ctx context.Context, eventID string) ([]db.StatusCount, error)
}

// ScanObserver is told about every scan outcome.
type ScanObserver interface {
	TicketScanned(reason models.ScanReason)
}

type TicketService struct {
	conn     *bun.DB
	DB       TicketDBLayer
	qr       *qr.QRGenerator
	clock    clock.Clock
	logger   *logger.Logger
	observer ScanObserver
}

func NewTicketService(conn *bun.DB, store TicketDBLayer, gen *qr.QRGenerator, clk clock.Clock, log *logger.Logger) *TicketService {
	return &TicketService{conn: conn, DB: store, qr: gen, clock: clk, logger: log}
}

func (s *TicketService) SetObserver(o ScanObserver) {
	s.observer = o
}

// Attendee is who a ticket is made out to.
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IssueTickets mints one ticket per unit of every order item. It joins the caller's
// transaction so tickets exist only if the payment commits.
func (s *TicketService) IssueTickets(ctx context.Context, o *models.Order) ([]*models.Ticket, error) {
	now := s.clock.Now()
	attendee := Attendee{Name: o.BuyerName, Email: o.BuyerEmail}

	var issued []*models.Ticket
	for _, it := range o.Items {
		for i := 0; i < it.Quantity; i++ {
			t, err := s.mint(o.ID, it.ID, o.EventID, it.TicketTypeID, it.SeatID, attendee, now)
			if err != nil {
				return nil, err
			}
			issued = append(issued, t)
		}
	}

	if err := s.DB.CreateTickets(ctx, issued); err != nil {
		return nil, fmt.Errorf("store tickets for order %s: %w", o.ID, err)
	}
	database.AfterCommit(ctx, func(context.Context) {
		s.logger.Info("TICKET", fmt.Sprintf("Issued %d tickets for order %s", len(issued), o.OrderNumber))
	})
	return issued, nil
}

func (s *TicketService) mint(orderID, itemID, eventID, typeID, seatID string, a Attendee, now time.Time) (*models.Ticket, error) {
	t := &models.Ticket{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		OrderItemID:   itemID,
		EventID:       eventID,
		TicketTypeID:  typeID,
		SeatID:        seatID,
		Code:          utils.GenerateTicketCode(),
		Status:        models.TicketValid,
		AttendeeName:  a.Name,
		AttendeeEmail: a.Email,
		IssuedAt:      now,
	}
	payload, err := s.qr.Sign(t)
	if err != nil {
		return nil, err
	}
	t.Payload = payload
	return t, nil
}

// ValidateScan admits a ticket at most once. input is either the short code or the
// signed payload read from the QR image. Only infrastructure failures return an
// error; every refusal is a ScanResult with a reason.
func (s *TicketService) ValidateScan(ctx context.Context, input, scannerID string) (*models.ScanResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty scan: %w", models.ErrInvalidInput)
	}

	var (
		t   *models.Ticket
		err error
	)
	if strings.Count(input, ".") == 2 {
		claims, verr := s.qr.Verify(input)
		if verr != nil {
			return s.scanned("", scannerID, &models.ScanResult{Reason: models.ScanInvalidSignature}), nil
		}
		t, err = s.DB.GetTicketByID(ctx, claims.TicketID)
		if err == nil && (t.Code != claims.Code || t.EventID != claims.EventID) {
			return s.scanned(t.ID, scannerID, &models.ScanResult{Reason: models.ScanInvalidSignature}), nil
		}
	} else {
		t, err = s.DB.GetTicketByCode(ctx, input)
	}
	if errors.Is(err, models.ErrNotFound) {
		return s.scanned("", scannerID, &models.ScanResult{Reason: models.ScanUnknownTicket}), nil
	}
	if err != nil {
		return nil, err
	}

	won, err := s.DB.MarkUsed(ctx, t.ID, scannerID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	current, err := s.DB.GetTicketByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if won {
		return s.scanned(t.ID, scannerID, &models.ScanResult{Accepted: true, Reason: models.ScanAccepted, Ticket: current}), nil
	}

	res := &models.ScanResult{Ticket: current}
	switch current.Status {
	case models.TicketUsed:
		res.Reason = models.ScanAlreadyUsed
	case models.TicketCancelled:
		res.Reason = models.ScanCancelled
	case models.TicketTransferred:
		res.Reason = models.ScanTransferred
	default:
		res.Reason = models.ScanUnknownTicket
	}
	return s.scanned(t.ID, scannerID, res), nil
}

func (s *TicketService) scanned(ticketID, scannerID string, res *models.ScanResult) *models.ScanResult {
	s.logger.LogScan(ticketID, fmt.Sprintf("%s by %s", res.Reason, scannerID))
	if s.observer != nil {
		s.observer.TicketScanned(res.Reason)
	}
	return res
}

// CancelOrderTickets voids the order's usable tickets and reports how many.
func (s *TicketService) CancelOrderTickets(ctx context.Context, orderID string) (int, error) {
	n, err := s.DB.CancelTicketsByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("TICKET", fmt.Sprintf("Cancelled %d tickets of order %s", n, orderID))
	return n, nil
}

// TransferTicket re-issues a valid ticket to a new attendee. The old code stops
// working and a fresh ticket with a new code and payload replaces it.
func (s *TicketService) TransferTicket(ctx context.Context, ticketID string, to Attendee) (*models.Ticket, error) {
	if to.Name == "" && to.Email == "" {
		return nil, fmt.Errorf("transfer needs an attendee: %w", models.ErrInvalidInput)
	}

	var replacement *models.Ticket
	err := database.WithTx(ctx, s.conn, func(ctx context.Context) error {
		t, err := s.DB.GetTicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		tt, err := s.DB.TicketType(ctx, t.TicketTypeID)
		if err != nil {
			return err
		}
		if !tt.Transferable {
			return fmt.Errorf("ticket type %s: %w", tt.Name, models.ErrNotTransferable)
		}
		if t.Status != models.TicketValid {
			return fmt.Errorf("ticket %s is %s: %w", ticketID, t.Status, models.ErrNotTransferable)
		}

		replacement, err = s.mint(t.OrderID, t.OrderItemID, t.EventID, t.TicketTypeID, t.SeatID, to, s.clock.Now())
		if err != nil {
			return err
		}
		ok, err := s.DB.MarkTransferred(ctx, t.ID, replacement.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ticket %s changed concurrently: %w", ticketID, models.ErrNotTransferable)
		}
		return s.DB.CreateTickets(ctx, []*models.Ticket{replacement})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("TICKET", fmt.Sprintf("Ticket %s transferred to %s as %s", ticketID, to.Email, replacement.ID))
	return replacement, nil
}

// RenderQR returns the PNG QR image of the ticket's signed payload.
func (s *TicketService) RenderQR(ctx context.Context, ticketID string) ([]byte, error) {
	t, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	img, err := s.qr.Render(t.Payload)
	if err != nil {
		return nil, fmt.Errorf("render qr for %s: %w", ticketID, err)
	}
	return img, nil
}

func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.DB.GetTicketByID(ctx, ticketID)
}

// TicketsByOrder returns the order's tickets in issue order.
func (s *TicketService) TicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	tickets, err := s.DB.GetTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

// CountsByEvent tallies the event's tickets by status for the door dashboard.
func (s *TicketService) CountsByEvent(ctx context.Context, eventID string) ([]db.StatusCount, error) {
	return s.DB.CountsByEvent(ctx, eventID)
}
