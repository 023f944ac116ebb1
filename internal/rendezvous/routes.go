package rendezvous

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Native clients send no Origin; browsers are not served.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewRouter mounts the websocket endpoint, the status routes and the
// Prometheus metrics.
func NewRouter(hub *Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", ServeWs(hub))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/rooms", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.Rooms())
	})

	r.Handle("/metrics", promhttp.HandlerFor(hub.metrics.registry, promhttp.HandlerOpts{}))

	return r
}

// ServeWs upgrades the request and hands the connection to the hub.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("failed to upgrade connection")
			return
		}

		client := hub.NewClient(conn)
		select {
		case hub.Register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
