package x402

import (
	"net/http"
	"strings"
)

// InvoiceItemsHeader carries a JSON-encoded item array as a legacy
// fallback for captures that cannot read the response body.
const InvoiceItemsHeader = "X-Invoice-Items"

// ChallengeHeader announces the x402 scheme on a 402 response.
const ChallengeHeader = "WWW-Authenticate"

// IsPaymentRequired reports whether a response status is 402.
func IsPaymentRequired(status int) bool {
	return status == http.StatusPaymentRequired
}

// HasChallenge reports whether the header mapping carries an x402
// WWW-Authenticate challenge. Header names compare case-insensitively.
func HasChallenge(headers map[string]string) bool {
	for name, value := range headers {
		if strings.EqualFold(name, ChallengeHeader) {
			return strings.Contains(strings.ToLower(value), "x402")
		}
	}
	return false
}
