package x402

import (
	"encoding/json"
	"testing"
)

func TestIsPaymentRequired(t *testing.T) {
	if !IsPaymentRequired(402) {
		t.Fatal("IsPaymentRequired(402) = false")
	}
	for _, status := range []int{200, 401, 403, 404, 500} {
		if IsPaymentRequired(status) {
			t.Fatalf("IsPaymentRequired(%d) = true", status)
		}
	}
}

func TestHasChallengeCaseInsensitive(t *testing.T) {
	headers := map[string]string{"www-authenticate": "x402 realm=demo"}
	if !HasChallenge(headers) {
		t.Fatal("lowercase challenge header not detected")
	}
	if HasChallenge(map[string]string{"Authorization": "Bearer x"}) {
		t.Fatal("false positive challenge detection")
	}
}

func TestAmountAcceptsStringAndNumber(t *testing.T) {
	var e BasketEntry
	if err := json.Unmarshal([]byte(`{"name":"a","price":"500","tax":25}`), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Price != "500" {
		t.Fatalf("Price = %q; want 500", e.Price)
	}
	if e.Tax != "25" {
		t.Fatalf("Tax = %q; want 25", e.Tax)
	}
}

func TestPaymentRequiredToleratesVersionShapes(t *testing.T) {
	// Servers send x402Version as a number or a string.
	for _, body := range []string{
		`{"x402Version":1,"accepts":[]}`,
		`{"x402Version":"1","basket":[]}`,
	} {
		var pr PaymentRequired
		if err := json.Unmarshal([]byte(body), &pr); err != nil {
			t.Fatalf("unmarshal %q: %v", body, err)
		}
	}
}
