package services

import (
	"strings"

	"lan-registration-platform/internal/models"
)

// PriceEngine computes line prices. It holds no state besides the partner
// domain set, so a new engine is built for every assembly.
type PriceEngine struct {
	partners map[string]bool
}

// NewPriceEngine creates a price engine for the given partner email domains
func NewPriceEngine(partnerDomains ...[]string) *PriceEngine {
	partners := make(map[string]bool)
	for _, domains := range partnerDomains {
		for _, d := range domains {
			if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
				partners[d] = true
			}
		}
	}
	return &PriceEngine{partners: partners}
}

// IsPartner reports whether the beneficiary studies at a partner school
func (p *PriceEngine) IsPartner(beneficiary *models.User) bool {
	if beneficiary == nil {
		return false
	}
	return p.partners[beneficiary.EmailDomain()]
}

func (p *PriceEngine) reduced(item *models.Item, beneficiary *models.User) bool {
	return item.IsTicket() && item.ReducedPrice != nil && p.IsPartner(beneficiary)
}

// LinePrice returns the amount due for quantity units of item
func (p *PriceEngine) LinePrice(item *models.Item, quantity int, beneficiary *models.User) int {
	if item.IsTicket() {
		quantity = 1
	}
	if p.reduced(item, beneficiary) {
		return *item.ReducedPrice * quantity
	}
	return item.Price * quantity
}

// Line builds a cart line carrying a snapshot of the current prices
func (p *PriceEngine) Line(item *models.Item, quantity int, beneficiary *models.User) models.CartLine {
	if item.IsTicket() {
		quantity = 1
	}
	line := models.CartLine{
		ItemID:   item.ID,
		Quantity: quantity,
		Price:    item.Price,
		Reduced:  p.reduced(item, beneficiary),
		IsTicket: item.IsTicket(),
	}
	if item.ReducedPrice != nil {
		reduced := *item.ReducedPrice
		line.ReducedPrice = &reduced
	}
	if beneficiary != nil {
		line.ForUserID = beneficiary.ID
	}
	return line
}

// Total sums the snapshot amounts of lines, rejecting negative baskets and
// totals that do not fit the stored amount
func (p *PriceEngine) Total(lines []models.CartLine) (int, error) {
	total := 0
	for i := range lines {
		if q := lines[i].Quantity; q < 1 || q > models.MaxLineQuantity {
			return 0, models.ErrInvalidInput.WithDetail("quantity of %s must be between 1 and %d", lines[i].ItemID, models.MaxLineQuantity)
		}
		total += lines[i].Amount()
		if total > models.MaxTotalPrice || total < -models.MaxTotalPrice {
			return 0, models.ErrInvalidInput.WithDetail("the basket total is too large")
		}
	}
	if total < 0 {
		return 0, models.ErrNegativeBasket.WithDetail("total is %d", total)
	}
	return total, nil
}
