package testsupport

import "github.com/garyjia/order-transcriber/internal/models"

// NextBitsSubject is an estimate subject recognized by the single-pair profile
const NextBitsSubject = "2025年8月作業：Telemasシステム改修作業等"

// NextBitsFieldSet returns extraction output for one month of single-pair work
// (quantity 1 at 600,000 yen, estimate TRR-25-008)
func NextBitsFieldSet() *models.FieldSet {
	return &models.FieldSet{
		Estimate: &models.Estimate{
			EstimateNumber: "TRR-25-008",
			Subject:        NextBitsSubject,
			Quantity:       1,
			UnitPrice:      600000,
		},
		Invoice: &models.Invoice{
			Subtotal: 600000,
			Tax:      60000,
			Total:    660000,
		},
	}
}

// OffBeatFieldSet returns extraction output for a list of line items. Invoice totals
// are computed from the items with tax rounded down.
func OffBeatFieldSet(items ...models.LineItem) *models.FieldSet {
	var subtotal int64
	for _, it := range items {
		subtotal += it.Quantity * it.UnitPrice
	}
	tax := subtotal / 10
	return &models.FieldSet{
		Estimate:          &models.Estimate{EstimateNumber: "2025091"},
		OrderConfirmation: &models.OrderConfirmation{IssueDate: "2025-09-12"},
		Invoice: &models.Invoice{
			Items:    items,
			Subtotal: subtotal,
			Tax:      tax,
			Total:    subtotal + tax,
		},
	}
}

// LineItems returns n distinct line items
func LineItems(n int) []models.LineItem {
	items := make([]models.LineItem, n)
	for i := range items {
		items[i] = models.LineItem{
			Name:      "保守作業" + string(rune('A'+i%26)),
			Quantity:  int64(i%3 + 1),
			UnitPrice: int64(15000 * (i + 1)),
		}
	}
	return items
}
