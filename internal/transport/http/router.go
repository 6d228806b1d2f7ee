package http

import (
	"net/http"

	"github.com/rs/cors"
)

// NewRouter mounts the participant websocket and the HTTP endpoints behind CORS.
func NewRouter(ws *WSHandler, api *APIHandler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", Health)
	mux.HandleFunc("GET /ws", ws.ServeWS)
	mux.HandleFunc("GET /games/{id}/state", api.State)
	mux.HandleFunc("GET /games/{id}/qr", api.QR)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}
