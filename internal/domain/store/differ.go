package store

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/feedbridge/backend/internal/domain/catalog"
)

// priceTolerance is the absolute difference under which an existing price
// counts as current. One minor unit absorbs rounding drift between runs.
var priceTolerance = decimal.NewFromInt(1)

// Action is the differ's verdict for one entry.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Decision carries the verdict and, for create/update, the ready-to-apply
// operation.
type Decision struct {
	Action Action
	Create CreateOp
	Update UpdateOp
}

// Decide compares one normalized entry against the inventory snapshot:
//
//	known, price within tolerance        -> skip
//	known, price drifted                 -> update (full mode also refreshes
//	                                        title, description, image)
//	unknown, full mode                   -> create
//	unknown, prices mode                 -> skip
//
// Decide is pure; running it twice over the same snapshot yields the same
// verdicts.
func Decide(entry catalog.Entry, inventory Inventory, mode Mode) Decision {
	existing, found := inventory[entry.ExternalKey]
	if found {
		if existing.CurrentPrice.Sub(entry.LocalPrice).Abs().LessThanOrEqual(priceTolerance) {
			return Decision{Action: ActionSkip}
		}
		update := UpdateOp{
			DestinationID: existing.DestinationID,
			Price:         entry.LocalPrice,
		}
		if mode == ModeFull {
			update.Title = entry.Title
			update.Description = describe(entry)
			update.ImageURL = entry.ImageURL
		}
		return Decision{Action: ActionUpdate, Update: update}
	}

	if mode == ModeFull {
		return Decision{Action: ActionCreate, Create: CreateOp{
			ExternalKey: entry.ExternalKey,
			Title:       entry.Title,
			Price:       entry.LocalPrice,
			Description: describe(entry),
			ImageURL:    entry.ImageURL,
		}}
	}
	return Decision{Action: ActionSkip}
}

// describe renders the short listing description: group name, collector
// number, variant label, space separated.
func describe(e catalog.Entry) string {
	parts := make([]string, 0, 3)
	if e.GroupName != "" {
		parts = append(parts, e.GroupName)
	}
	if number := e.Attributes[catalog.AttrNumber]; number != "" {
		parts = append(parts, number)
	}
	if variant := e.Attributes[catalog.AttrVariant]; variant != "" {
		parts = append(parts, variant)
	}
	return strings.Join(parts, " ")
}
