package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dgnsrekt/x402_agent/internal/relay"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// serveEvents upgrades the connection and streams broker events as JSON
// text frames until the client goes away.
func serveEvents(broker *relay.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		id, ch := broker.Subscribe()
		slog.Info("ws client connected", "subscriber_id", id, "remote", r.RemoteAddr)

		// Reader: the only inbound traffic we expect is a close frame.
		// Unsubscribing closes the event channel, which ends the writer
		// even when no further events are published.
		go func() {
			defer conn.Close()
			defer broker.Unsubscribe(id)
			for {
				if _, err := wsutil.ReadClientText(conn); err != nil {
					return
				}
			}
		}()

		go func() {
			defer func() {
				broker.Unsubscribe(id)
				conn.Close()
				slog.Info("ws client disconnected", "subscriber_id", id)
			}()
			for evt := range ch {
				data, err := json.Marshal(evt)
				if err != nil {
					slog.Debug("ws event marshal failed", "error", err)
					continue
				}
				if err := wsutil.WriteServerText(conn, data); err != nil {
					return
				}
			}
		}()
	}
}
