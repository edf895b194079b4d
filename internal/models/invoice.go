package models

// LineItem is one billed line of an invoice (品目・数量・単価)
type LineItem struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Amount    int64  `json:"amount,omitempty"` // as printed on the invoice, informational only
}

// Invoice holds the figures extracted from a partner invoice (請求書)
type Invoice struct {
	Items    []LineItem `json:"items,omitempty"`
	Subtotal int64      `json:"subtotal"` // 消費税10%対象 / 小計
	Tax      int64      `json:"tax"`      // 消費税(10%)
	Total    int64      `json:"total"`    // 合計金額
}

// DetailItems returns the items to transcribe. An invoice whose line items could not be
// extracted but which carries a subtotal is treated as a single item priced at the subtotal.
func (inv *Invoice) DetailItems() []LineItem {
	if inv == nil {
		return nil
	}
	if len(inv.Items) > 0 {
		return inv.Items
	}
	if inv.Subtotal > 0 {
		return []LineItem{{Quantity: 1, UnitPrice: inv.Subtotal}}
	}
	return nil
}
