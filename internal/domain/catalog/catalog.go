// Package catalog defines the normalized feed model: groups, raw feed rows,
// and the sellable entries derived from them. Entries are the comparable
// unit the reconciliation differ works with.
package catalog

import (
	"github.com/shopspring/decimal"
)

// Group is one catalog subset (a set or series) from the feed listing.
// Groups are sourced once per run and immutable while the run lasts.
type Group struct {
	ID           int
	Name         string
	Abbreviation string
}

// Attribute keys the normalizer sets on an Entry.
const (
	AttrNumber  = "number"
	AttrVariant = "variant"
)

// RawRow is one parsed feed row, keyed by header name. Missing columns
// read as the empty string.
type RawRow map[string]string

// Get returns the value for a column, "" when absent
func (r RawRow) Get(column string) string {
	return r[column]
}

// Entry is a normalized catalog item variant. ExternalKey is the join key
// against destination records and is stable across runs for the same feed
// content.
type Entry struct {
	ExternalKey string
	Title       string
	SourcePrice decimal.Decimal
	LocalPrice  decimal.Decimal
	ImageURL    string
	GroupName   string
	Attributes  map[string]string
}
