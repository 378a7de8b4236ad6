package billing

import (
	"strings"

	"subtracker/internal/models"
)

// Converter converts amounts between currencies using rates quoted against a
// common base currency.
type Converter struct {
	base  string
	rates map[string]float64
}

// NewConverter creates a Converter. rates maps currency codes to the number
// of units equal to one unit of base.
func NewConverter(base string, rates map[string]float64) *Converter {
	normalized := make(map[string]float64, len(rates)+1)
	for code, rate := range rates {
		if rate > 0 {
			normalized[strings.ToUpper(code)] = rate
		}
	}
	base = strings.ToUpper(base)
	if base != "" {
		if _, ok := normalized[base]; !ok {
			normalized[base] = 1
		}
	}
	return &Converter{base: base, rates: normalized}
}

// HasRates reports whether any rate is known.
func (c *Converter) HasRates() bool {
	return c != nil && len(c.rates) > 0
}

// Supports reports whether code has a known rate.
func (c *Converter) Supports(code string) bool {
	if c == nil {
		return false
	}
	_, ok := c.rates[strings.ToUpper(code)]
	return ok
}

// Convert converts amount from one currency to another. The amount is
// returned unchanged when either rate is unknown.
func (c *Converter) Convert(amount float64, from, to string) float64 {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if amount == 0 || from == to || c == nil {
		return amount
	}
	fromRate, ok := c.rates[from]
	if !ok {
		return amount
	}
	toRate, ok := c.rates[to]
	if !ok {
		return amount
	}
	return Round2(amount / fromRate * toRate)
}

// ConvertAll returns a copy of subs with amounts expressed in currency to.
// Subscriptions in an unknown currency keep their original figures.
func (c *Converter) ConvertAll(subs []models.Subscription, to string) []models.Subscription {
	out := make([]models.Subscription, len(subs))
	for i, sub := range subs {
		if c.Supports(sub.Currency) && c.Supports(to) {
			sub.Amount = c.Convert(sub.Amount, sub.Currency, to)
			if sub.YourShare != nil {
				share := c.Convert(*sub.YourShare, sub.Currency, to)
				sub.YourShare = &share
			}
			sub.Currency = strings.ToUpper(to)
		}
		out[i] = sub
	}
	return out
}
