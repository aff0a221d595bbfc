// Package basket derives an itemized basket and total from a stored 402
// request. Resolution is pure and deterministic: the basket is recomputed
// from the record every time, never cached.
package basket

import (
	"encoding/json"
	"log/slog"
	"math/big"

	"github.com/dgnsrekt/x402_agent/internal/store"
	"github.com/dgnsrekt/x402_agent/internal/x402"
)

// Breakdown carries the per-item price components of a basket-schema
// entry, in major currency units.
type Breakdown struct {
	Base     *big.Rat
	Tax      *big.Rat
	Discount *big.Rat
}

// LineItem is one resolved basket row. UnitPrice is in major currency
// units at full precision; rounding happens only at presentation.
type LineItem struct {
	Name      string
	UnitPrice *big.Rat
	Quantity  int
	ID        string
	ImageURLs []string
	Breakdown *Breakdown
}

// Subtotal returns UnitPrice * Quantity.
func (li LineItem) Subtotal() *big.Rat {
	qty := new(big.Rat).SetInt64(int64(li.Quantity))
	return new(big.Rat).Mul(li.UnitPrice, qty)
}

// Basket is the resolved, ordered item list with its total. An empty
// basket with a zero total is a valid terminal state, not a failure.
type Basket struct {
	Items []LineItem
	Total *big.Rat
}

// Resolve interprets a record's body and headers, trying each schema in
// strict priority order: the basket extension (highest fidelity), then
// the standard accepts array, then the legacy invoice-items header.
// Anything unparseable degrades to the next tier.
func Resolve(rec store.RequestRecord) Basket {
	if rec.ResponseBody != "" {
		var body x402.PaymentRequired
		if err := json.Unmarshal([]byte(rec.ResponseBody), &body); err != nil {
			slog.Debug("basket: response body is not valid JSON", "url", rec.URL, "error", err)
		} else {
			if len(body.Basket) > 0 {
				return fromBasketEntries(body.Basket)
			}
			if len(body.Accepts) > 0 {
				return fromAccepts(body.Accepts)
			}
			slog.Debug("basket: body has neither basket nor accepts array", "url", rec.URL)
		}
	}

	if raw, ok := rec.Header(x402.InvoiceItemsHeader); ok {
		if b, ok := fromInvoiceHeader(raw); ok {
			return b
		}
	}

	return Basket{Total: new(big.Rat)}
}

// fromBasketEntries converts basket-extension entries. Price, tax and
// discount arrive in minor units; the adjusted unit price is
// ((price/100)*qty + tax/100 - discount/100) / qty.
func fromBasketEntries(entries []x402.BasketEntry) Basket {
	items := make([]LineItem, 0, len(entries))
	for _, e := range entries {
		qty := e.Quantity
		if qty <= 0 {
			qty = 1
		}
		base := minorUnits(e.Price)
		tax := minorUnits(e.Tax)
		discount := minorUnits(e.Discount)

		qtyRat := new(big.Rat).SetInt64(int64(qty))
		gross := new(big.Rat).Mul(base, qtyRat)
		gross.Add(gross, tax)
		gross.Sub(gross, discount)
		unit := new(big.Rat).Quo(gross, qtyRat)

		items = append(items, LineItem{
			Name:      e.Name,
			UnitPrice: unit,
			Quantity:  qty,
			ID:        e.ID,
			ImageURLs: e.ImageURLs,
			Breakdown: &Breakdown{Base: base, Tax: tax, Discount: discount},
		})
	}
	return withTotal(items)
}

// fromAccepts synthesizes one line item per acceptable payment method.
// maxAmountRequired is a 6-decimal fixed-point asset amount.
func fromAccepts(accepts []x402.PaymentRequirements) Basket {
	items := make([]LineItem, 0, len(accepts))
	for _, a := range accepts {
		name := a.Description
		if name == "" {
			name = "Payment Required"
		}
		items = append(items, LineItem{
			Name:      name,
			UnitPrice: scaledAmount(a.MaxAmountRequired, 1_000_000),
			Quantity:  1,
		})
	}
	return withTotal(items)
}

type invoiceItem struct {
	ID        string      `json:"id,omitempty"`
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
	Quantity  int         `json:"quantity,omitempty"`
	ImageURLs []string    `json:"image_urls,omitempty"`
}

// fromInvoiceHeader parses the X-Invoice-Items JSON array. Prices here
// are already major currency units and are used verbatim.
func fromInvoiceHeader(raw string) (Basket, bool) {
	var parsed []invoiceItem
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Debug("basket: unparseable invoice-items header", "error", err)
		return Basket{}, false
	}
	items := make([]LineItem, 0, len(parsed))
	for _, it := range parsed {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		items = append(items, LineItem{
			Name:      it.Name,
			UnitPrice: decimalRat(it.Price.String()),
			Quantity:  qty,
			ID:        it.ID,
			ImageURLs: it.ImageURLs,
		})
	}
	return withTotal(items), true
}

func withTotal(items []LineItem) Basket {
	total := new(big.Rat)
	for _, li := range items {
		total.Add(total, li.Subtotal())
	}
	return Basket{Items: items, Total: total}
}

// minorUnits parses a cents amount into major units (divides by 100).
func minorUnits(a x402.Amount) *big.Rat {
	return scaledAmount(string(a), 100)
}

// scaledAmount parses a decimal string and divides by denom. Malformed
// or missing amounts resolve to zero; the item still renders.
func scaledAmount(s string, denom int64) *big.Rat {
	if s == "" {
		return new(big.Rat)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		slog.Debug("basket: unparseable amount", "value", s)
		return new(big.Rat)
	}
	return r.Quo(r, new(big.Rat).SetInt64(denom))
}

// decimalRat parses an already-major-unit decimal string.
func decimalRat(s string) *big.Rat {
	if s == "" {
		return new(big.Rat)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		slog.Debug("basket: unparseable price", "value", s)
		return new(big.Rat)
	}
	return r
}
