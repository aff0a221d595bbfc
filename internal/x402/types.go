// Package x402 holds the wire shapes of the x402 payment-required
// protocol as observed in 402 response bodies and headers.
package x402

import (
	"encoding/json"
	"fmt"
)

// PaymentRequirements describes one acceptable payment method from the
// standard "accepts" array. Amounts are fixed-point asset amounts encoded
// as decimal strings (USDC-style 6 decimals).
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Asset             string         `json:"asset,omitempty"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource,omitempty"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo,omitempty"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// BasketEntry is one line item from the basket extension schema. Price,
// tax and discount are minor currency units (cents) as decimal strings.
type BasketEntry struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Price     Amount         `json:"price"`
	Quantity  int            `json:"quantity,omitempty"`
	Tax       Amount         `json:"tax,omitempty"`
	Discount  Amount         `json:"discount,omitempty"`
	ImageURLs []string       `json:"image_urls,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PaymentRequired is the union of the mutually exclusive 402 body
// schemas. A body may carry a basket array, an accepts array, both, or
// neither; the basket resolver decides which one wins.
type PaymentRequired struct {
	X402Version json.RawMessage       `json:"x402Version,omitempty"`
	Error       string                `json:"error,omitempty"`
	Basket      []BasketEntry         `json:"basket,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts,omitempty"`
}

// Amount is a decimal amount that servers encode either as a JSON string
// ("500") or a bare number (500).
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("x402: empty amount")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("x402: amount must be string or number: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

func (a Amount) String() string { return string(a) }
