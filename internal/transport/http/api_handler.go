package http

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"trivia-board-service/internal/app"
	"trivia-board-service/internal/domain"
)

const qrSize = 320

// APIHandler serves the read-only HTTP endpoints around a live game.
type APIHandler struct {
	service     *app.GameService
	joinBaseURL string
}

// NewAPIHandler builds the handler. joinBaseURL is the player join page encoded into QR codes;
// when empty the URL is derived from the request.
func NewAPIHandler(service *app.GameService, joinBaseURL string) *APIHandler {
	return &APIHandler{service: service, joinBaseURL: joinBaseURL}
}

// State returns the public view of a live game.
func (h *APIHandler) State(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	view, err := h.service.View(r.Context(), gameID, domain.RoleBoard)
	if err != nil {
		writeJSON(w, statusFor(err), errorFor(err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// QR renders a PNG QR code pointing players at the join page of a game.
func (h *APIHandler) QR(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}
	png, err := qrcode.Encode(h.joinURL(r, gameID), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("qr generation failed")
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (h *APIHandler) joinURL(r *http.Request, gameID string) string {
	base := h.joinBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host + "/join"
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?gameId=" + url.QueryEscape(gameID)
	}
	q := u.Query()
	q.Set("gameId", gameID)
	u.RawQuery = q.Encode()
	return u.String()
}

func Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("write response failed")
	}
}
