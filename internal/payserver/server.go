// Package payserver is a local demo origin that answers with the 402
// response shapes the watcher captures: the standard accepts schema,
// the basket extension, the legacy invoice-items header, and a page
// that plants payment data into window.__x402 instead of the wire.
package payserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dgnsrekt/x402_agent/internal/x402"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewHandler builds the demo origin router.
func NewHandler() http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Post("/pay", handlePayAccepts)
	router.Post("/pay/basket", handlePayBasket)
	router.Post("/pay/legacy", handlePayLegacy)
	router.Get("/embedded", handleEmbeddedPage)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			slog.Debug("healthz write failed", "error", err)
		}
	})

	return router
}

// handlePayAccepts answers with the standard x402 accepts schema.
// maxAmountRequired is a 6-decimal fixed-point asset amount.
func handlePayAccepts(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"x402Version": 1,
		"error":       "Payment required",
		"accepts": []x402.PaymentRequirements{
			{
				Scheme:            "exact",
				Network:           "base-sepolia",
				Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				MaxAmountRequired: "1500000",
				Resource:          "http://" + r.Host + "/pay",
				Description:       "Demo article access",
				MimeType:          "application/json",
				PayTo:             "0x0000000000000000000000000000000000000001",
				MaxTimeoutSeconds: 60,
			},
		},
	}
	writePaymentRequired(w, body)
}

// handlePayBasket answers with the basket extension: itemized minor-unit
// prices with per-item tax and discount.
func handlePayBasket(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"x402Version": 1,
		"error":       "Payment required",
		"basket": []x402.BasketEntry{
			{
				ID:       "sku-espresso",
				Name:     "Espresso",
				Price:    "350",
				Quantity: 2,
				Tax:      "56",
				Discount: "0",
			},
			{
				ID:       "sku-croissant",
				Name:     "Croissant",
				Price:    "425",
				Quantity: 1,
				Tax:      "34",
				Discount: "50",
			},
		},
	}
	writePaymentRequired(w, body)
}

// handlePayLegacy answers with an empty body and the invoice-items
// header, exercising the lowest-priority resolution tier.
func handlePayLegacy(w http.ResponseWriter, r *http.Request) {
	items := []map[string]any{
		{"id": "inv-1", "name": "Archive download", "price": "9.99", "quantity": 1},
	}
	data, err := json.Marshal(items)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set(x402.InvoiceItemsHeader, string(data))
	w.Header().Set(x402.ChallengeHeader, "x402")
	w.WriteHeader(http.StatusPaymentRequired)
}

func writePaymentRequired(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(x402.ChallengeHeader, "x402")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("payment response write failed", "error", err)
	}
}

// embeddedHTML sets the page-global payment object after a delay, the
// pattern the embedded scanner's re-check schedule exists for.
const embeddedHTML = `<!doctype html>
<html>
<head><title>Embedded Payment Demo</title></head>
<body>
<p>Payment data arrives asynchronously.</p>
<script>
  setTimeout(function() {
    window.__x402 = {
      url: window.location.href,
      status: 402,
      method: "GET",
      body: {
        x402Version: 1,
        accepts: [{
          scheme: "exact",
          network: "base-sepolia",
          maxAmountRequired: "250000",
          description: "Embedded demo content"
        }]
      }
    };
  }, 1500);
</script>
</body>
</html>`

func handleEmbeddedPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write([]byte(embeddedHTML)); err != nil {
		slog.Debug("embedded page write failed", "error", err)
	}
}
