// Package pricing turns a held cart, a promo code and the fee table into order totals.
// All amounts are int64 minor units. Percentages are basis points, evaluated exactly
// and rounded half-up once per discount or fee, never per line.
package pricing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ms-checkout/internal/models"
)

var basisPoints = decimal.NewFromInt(10000)

// Line is one priced cart line.
type Line struct {
	TicketTypeID string
	SeatID       string
	Quantity     int
	UnitPrice    int64
}

func (l Line) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

type Input struct {
	EventID string
	BuyerID string
	Lines   []Line
	Promo   *models.PromoCode
	// PromoUsesByBuyer counts the buyer's earlier redemptions of Promo.
	PromoUsesByBuyer int
	Fees             []models.Fee
	Now              time.Time
}

type Quote struct {
	Subtotal      int64
	Discount      int64
	BuyerFees     int64
	OrganizerFees int64
	Total         int64
	// LineDiscounts[i] is the share of Discount carried by Lines[i].
	LineDiscounts []int64
	FeeLines      []models.FeeLine
}

// Price computes the quote. An unusable promo code fails with models.ErrPromoInvalid.
func Price(in Input) (*Quote, error) {
	q := &Quote{LineDiscounts: make([]int64, len(in.Lines))}
	for _, l := range in.Lines {
		if l.Quantity <= 0 || l.UnitPrice < 0 {
			return nil, fmt.Errorf("line %s: %w", l.TicketTypeID, models.ErrInvalidInput)
		}
		q.Subtotal += l.Subtotal()
	}

	if in.Promo != nil {
		discount, err := Discount(in.Promo, in)
		if err != nil {
			return nil, err
		}
		q.Discount = discount
		q.LineDiscounts = allocate(discount, in.Lines, in.Promo.AppliesTo)
	}

	for _, fee := range applicableFees(in.Fees, in.EventID, in.Lines) {
		amount := feeAmount(fee, in.Lines, q.LineDiscounts)
		if amount <= 0 {
			continue
		}
		q.FeeLines = append(q.FeeLines, models.FeeLine{
			FeeID:  fee.ID,
			Name:   fee.Name,
			Type:   fee.Type,
			Payer:  fee.Payer,
			Amount: amount,
		})
		if fee.Payer == models.PayerOrganizer {
			q.OrganizerFees += amount
		} else {
			q.BuyerFees += amount
		}
	}

	q.Total = q.Subtotal - q.Discount + q.BuyerFees
	return q, nil
}

// ValidatePromo checks everything about a code except the amount it yields.
func ValidatePromo(p *models.PromoCode, in Input) error {
	invalid := func(reason string) error {
		return fmt.Errorf("promo %s %s: %w", p.Code, reason, models.ErrPromoInvalid)
	}

	if !p.Active {
		return invalid("is not active")
	}
	if !p.ValidFrom.IsZero() && in.Now.Before(p.ValidFrom) {
		return invalid("is not yet active")
	}
	if !p.ValidUntil.IsZero() && !in.Now.Before(p.ValidUntil) {
		return invalid("has expired")
	}
	if p.EventID != "" && p.EventID != in.EventID {
		return invalid("is for another event")
	}
	if p.MaxUses > 0 && p.CurrentUses >= p.MaxUses {
		return invalid("usage limit has been reached")
	}
	if p.MaxUsesPerUser > 0 && in.PromoUsesByBuyer >= p.MaxUsesPerUser {
		return invalid("per-buyer limit has been reached")
	}

	var subtotal, applicable int64
	for _, l := range in.Lines {
		subtotal += l.Subtotal()
		if p.AppliesTo(l.TicketTypeID) {
			applicable += l.Subtotal()
		}
	}
	if applicable == 0 {
		return invalid("matches no ticket in the cart")
	}
	if p.MinOrderValue > 0 && subtotal < p.MinOrderValue {
		return invalid(fmt.Sprintf("needs a subtotal of at least %d", p.MinOrderValue))
	}
	return nil
}

// Discount validates the code and returns the discount it grants on the cart.
func Discount(p *models.PromoCode, in Input) (int64, error) {
	if err := ValidatePromo(p, in); err != nil {
		return 0, err
	}

	var subtotal, applicable int64
	for _, l := range in.Lines {
		subtotal += l.Subtotal()
		if p.AppliesTo(l.TicketTypeID) {
			applicable += l.Subtotal()
		}
	}

	var amount int64
	switch p.Type {
	case models.DiscountPercentage:
		amount = percentOf(applicable, p.Amount)
		if p.MaxDiscount > 0 && amount > p.MaxDiscount {
			amount = p.MaxDiscount
		}
	case models.DiscountFixed:
		amount = p.Amount
		if amount > applicable {
			amount = applicable
		}
	default:
		return 0, fmt.Errorf("promo %s has unsupported type %q: %w", p.Code, p.Type, models.ErrPromoInvalid)
	}

	if amount < 0 {
		amount = 0
	}
	if amount > subtotal {
		amount = subtotal
	}
	return amount, nil
}

// percentOf is base * bps / 10000, exact, rounded half-up.
func percentOf(base, bps int64) int64 {
	return decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(bps)).
		Div(basisPoints).
		Round(0).
		IntPart()
}

// allocate splits total across matching lines in proportion to their subtotals
// using largest remainders, so the parts always sum to total.
func allocate(total int64, lines []Line, applies func(string) bool) []int64 {
	out := make([]int64, len(lines))
	if total == 0 {
		return out
	}

	var base int64
	for _, l := range lines {
		if applies(l.TicketTypeID) {
			base += l.Subtotal()
		}
	}
	if base == 0 {
		return out
	}

	type rem struct {
		idx  int
		frac decimal.Decimal
	}
	var rems []rem
	var assigned int64
	d := decimal.NewFromInt(total)
	for i, l := range lines {
		if !applies(l.TicketTypeID) {
			continue
		}
		exact := d.Mul(decimal.NewFromInt(l.Subtotal())).Div(decimal.NewFromInt(base))
		whole := exact.Floor()
		out[i] = whole.IntPart()
		assigned += out[i]
		rems = append(rems, rem{idx: i, frac: exact.Sub(whole)})
	}

	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].frac.GreaterThan(rems[b].frac)
	})
	for i := int64(0); i < total-assigned; i++ {
		out[rems[int(i)%len(rems)].idx]++
	}
	return out
}

func applicableFees(fees []models.Fee, eventID string, lines []Line) []models.Fee {
	var out []models.Fee
	for _, f := range fees {
		if !f.Active {
			continue
		}
		if f.EventID != "" && f.EventID != eventID {
			continue
		}
		if f.TicketTypeID != "" && !anyLine(lines, f.TicketTypeID) {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func anyLine(lines []Line, ticketTypeID string) bool {
	for _, l := range lines {
		if l.TicketTypeID == ticketTypeID {
			return true
		}
	}
	return false
}

func feeAmount(f models.Fee, lines []Line, lineDiscounts []int64) int64 {
	var (
		lineCount int64
		tickets   int64
		net       int64
	)
	for i, l := range lines {
		if f.TicketTypeID != "" && l.TicketTypeID != f.TicketTypeID {
			continue
		}
		lineCount++
		tickets += int64(l.Quantity)
		net += l.Subtotal() - lineDiscounts[i]
	}

	var amount int64
	switch f.Type {
	case models.FeeFixed:
		amount = f.Amount * lineCount
	case models.FeePercent:
		amount = percentOf(net, f.Amount)
	case models.FeePerTicket:
		amount = f.Amount * tickets
	case models.FeePerOrder:
		amount = f.Amount
	}
	if f.Cap > 0 && amount > f.Cap {
		amount = f.Cap
	}
	return amount
}
