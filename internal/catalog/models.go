package catalog

import "time"

// Entry is a sellable service (e.g. "telegram", "whatsapp") with its resale
// pricing. Read-mostly; edited only through the admin surface.
type Entry struct {
	// Name doubles as the provider-side service identifier.
	Name string `json:"name" db:"name"`

	// BasePriceMinor is the provider cost in minor units.
	BasePriceMinor int64 `json:"base_price_minor" db:"base_price_minor"`

	// MarkupBps is the resale markup in basis points (2500 = +25%).
	// Stored as an integer so the selling price is exact.
	MarkupBps int32 `json:"markup_bps" db:"markup_bps"`

	Enabled bool `json:"enabled" db:"enabled"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PriceMinor is the selling price: base * (1 + markup), rounded half-even to
// the ledger's minor unit.
func (e Entry) PriceMinor() int64 {
	return roundHalfEvenDiv(e.BasePriceMinor*(10_000+int64(e.MarkupBps)), 10_000)
}

// roundHalfEvenDiv divides n by d (d > 0, n >= 0) rounding halves to the
// nearest even quotient (banker's rounding).
func roundHalfEvenDiv(n, d int64) int64 {
	q := n / d
	r := n % d
	switch {
	case 2*r < d:
		return q
	case 2*r > d:
		return q + 1
	default: // exact half
		if q%2 == 0 {
			return q
		}
		return q + 1
	}
}
