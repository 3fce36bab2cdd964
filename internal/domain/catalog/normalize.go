package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Feed column names. The feed is header-addressed, so these are the only
// coupling between the parser and the normalizer.
const (
	ColProductID   = "productId"
	ColName        = "name"
	ColCleanName   = "cleanName"
	ColNumber      = "extNumber"
	ColMarketPrice = "marketPrice"
	ColSubType     = "subTypeName"
	ColImageURL    = "imageUrl"
)

// PriceRule is the local-price policy of the active backend profile.
// Granularity is the rounding unit (1 or 100), Ceiling selects rounding
// up instead of half-up. The rule is fixed per deployment and never mixed
// within a run.
type PriceRule struct {
	MinPrice    decimal.Decimal
	Granularity int64
	Ceiling     bool
}

// Localize converts a source price to the local currency and applies the
// rounding policy and the minimum-price clamp.
func (r PriceRule) Localize(source, rate decimal.Decimal) decimal.Decimal {
	granularity := r.Granularity
	if granularity <= 0 {
		granularity = 1
	}
	unit := decimal.NewFromInt(granularity)

	units := source.Mul(rate).Div(unit)
	if r.Ceiling {
		units = units.Ceil()
	} else {
		units = units.Round(0)
	}

	local := units.Mul(unit)
	if local.LessThan(r.MinPrice) {
		return r.MinPrice
	}
	return local
}

// Normalizer turns raw feed rows into sellable entries priced in the
// local currency. The exchange rate is resolved once per run, so a
// Normalizer is built per run and is safe for read-only sharing.
type Normalizer struct {
	rate decimal.Decimal
	rule PriceRule
}

// NewNormalizer builds a Normalizer for one run's exchange rate and the
// deployment's price rule.
func NewNormalizer(rate decimal.Decimal, rule PriceRule) *Normalizer {
	return &Normalizer{rate: rate, rule: rule}
}

// Normalize maps a raw feed row to an Entry. The second return is false
// when the row is not sellable: the number field must be non-empty and
// carry a "current/total" fraction, and the market price must parse to a
// positive decimal.
func (n *Normalizer) Normalize(row RawRow, group Group) (Entry, bool) {
	number := strings.TrimSpace(row.Get(ColNumber))
	if number == "" || !strings.Contains(number, "/") {
		return Entry{}, false
	}

	source, err := decimal.NewFromString(strings.TrimSpace(row.Get(ColMarketPrice)))
	if err != nil || !source.IsPositive() {
		return Entry{}, false
	}

	variant := strings.TrimSpace(row.Get(ColSubType))
	entry := Entry{
		ExternalKey: ExternalKey(strings.TrimSpace(row.Get(ColProductID)), variant, group),
		Title:       BuildTitle(row, group),
		SourcePrice: source,
		LocalPrice:  n.rule.Localize(source, n.rate),
		ImageURL:    strings.TrimSpace(row.Get(ColImageURL)),
		GroupName:   group.Name,
		Attributes:  map[string]string{AttrNumber: number},
	}
	if variant != "" {
		entry.Attributes[AttrVariant] = variant
	}
	return entry, true
}

// BuildTitle assembles the display title: cleanest name, the number
// unless the name already carries it, the variant label when present,
// and the group display name.
func BuildTitle(row RawRow, group Group) string {
	name := strings.TrimSpace(row.Get(ColCleanName))
	if name == "" {
		name = strings.TrimSpace(row.Get(ColName))
	}
	name = strings.Join(strings.Fields(name), " ")
	name = strings.ReplaceAll(name, " - ", " | ")

	parts := make([]string, 0, 4)
	if name != "" {
		parts = append(parts, name)
	}
	if number := strings.TrimSpace(row.Get(ColNumber)); number != "" && !strings.Contains(name, number) {
		parts = append(parts, number)
	}
	if variant := strings.TrimSpace(row.Get(ColSubType)); variant != "" {
		parts = append(parts, variant)
	}
	if group.Name != "" {
		parts = append(parts, group.Name)
	}
	return strings.Join(parts, " ")
}
