package api

import (
	"time"

	"github.com/dgnsrekt/x402_agent/internal/basket"
	"github.com/dgnsrekt/x402_agent/internal/store"
)

// moneyDecimals is the presentation precision for all money strings.
// Resolution itself is exact; rounding happens only here.
const moneyDecimals = 2

// BasketItemView is one resolved basket row as served over the API.
type BasketItemView struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	UnitPrice string   `json:"unit_price"`
	Quantity  int      `json:"quantity"`
	Subtotal  string   `json:"subtotal"`
	ImageURLs []string `json:"image_urls,omitempty"`
	Base      string   `json:"base,omitempty"`
	Tax       string   `json:"tax,omitempty"`
	Discount  string   `json:"discount,omitempty"`
}

// BasketView is the itemized basket with its total.
type BasketView struct {
	Items []BasketItemView `json:"items"`
	Total string           `json:"total"`
}

// RequestView is the list/detail form of a stored 402 request. The
// basket total is resolved on demand, never persisted.
type RequestView struct {
	ID         string             `json:"id"`
	URL        string             `json:"url"`
	Method     string             `json:"method"`
	Timestamp  time.Time          `json:"timestamp"`
	StatusCode int                `json:"status_code"`
	Headers    []store.HeaderPair `json:"response_headers"`
	Body       string             `json:"response_body,omitempty"`
	ContextID  string             `json:"context_id,omitempty"`
	ContextURL string             `json:"context_url,omitempty"`
	Source     string             `json:"source"`
	ItemCount  int                `json:"item_count"`
	Total      string             `json:"total"`
}

func basketView(b basket.Basket) BasketView {
	items := make([]BasketItemView, 0, len(b.Items))
	for _, li := range b.Items {
		v := BasketItemView{
			ID:        li.ID,
			Name:      li.Name,
			UnitPrice: li.UnitPrice.FloatString(moneyDecimals),
			Quantity:  li.Quantity,
			Subtotal:  li.Subtotal().FloatString(moneyDecimals),
			ImageURLs: li.ImageURLs,
		}
		if li.Breakdown != nil {
			v.Base = li.Breakdown.Base.FloatString(moneyDecimals)
			v.Tax = li.Breakdown.Tax.FloatString(moneyDecimals)
			v.Discount = li.Breakdown.Discount.FloatString(moneyDecimals)
		}
		items = append(items, v)
	}
	return BasketView{Items: items, Total: b.Total.FloatString(moneyDecimals)}
}

func requestView(rec store.RequestRecord) RequestView {
	b := basket.Resolve(rec)
	return RequestView{
		ID:         rec.ID,
		URL:        rec.URL,
		Method:     rec.Method,
		Timestamp:  rec.Timestamp,
		StatusCode: rec.StatusCode,
		Headers:    rec.ResponseHeaders,
		Body:       rec.ResponseBody,
		ContextID:  rec.ContextID,
		ContextURL: rec.ContextURL,
		Source:     rec.Source,
		ItemCount:  len(b.Items),
		Total:      b.Total.FloatString(moneyDecimals),
	}
}
