package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"trivia-board-service/internal/app"
	"trivia-board-service/internal/auth"
	"trivia-board-service/internal/domain"
)

// WSConfig tunes participant connections.
type WSConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

func DefaultWSConfig() WSConfig {
	return WSConfig{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 4096,
	}
}

type WSHandler struct {
	service  *app.GameService
	verifier *auth.Verifier
	config   WSConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, verifier *auth.Verifier, config WSConfig) *WSHandler {
	return &WSHandler{
		service:  service,
		verifier: verifier,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// actionPayload carries the fields of every inbound action; each action reads the ones it needs.
type actionPayload struct {
	QuestionID string `json:"questionId"`
	TeamID     string `json:"teamId"`
	Timestamp  int64  `json:"timestamp"`
	Amount     int    `json:"amount"`
	Correct    bool   `json:"correct"`
	Answer     string `json:"answer"`
	Category   string `json:"category"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type joinedPayload struct {
	ClientID string          `json:"clientId"`
	Role     domain.Role     `json:"role"`
	TeamID   string          `json:"teamId,omitempty"`
	State    domain.GameView `json:"state"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the game use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	if gameID == "" {
		http.Error(w, "missing gameId", http.StatusBadRequest)
		return
	}
	participant, err := h.participant(r, gameID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	view, err := h.service.Join(ctx, gameID, participant)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorFor(err)})
		return
	}
	defer h.service.Leave(context.Background(), gameID, participant.ClientID)

	updates, cancel, err := h.service.Subscribe(ctx, gameID, participant.Role)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorFor(err)})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		h.writePump(conn, send, participant.ClientID)
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		ClientID: participant.ClientID,
		Role:     participant.Role,
		TeamID:   participant.TeamID,
		State:    view,
	}}

	conn.SetReadLimit(h.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client_id", participant.ClientID).Msg("ws read ended")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))

		if err := h.dispatch(ctx, gameID, participant, inbound); err != nil {
			log.Debug().Err(err).
				Str("game_id", gameID).
				Str("client_id", participant.ClientID).
				Str("action", inbound.Type).
				Msg("action rejected")
			send <- outboundMessage[any]{Type: "error", Payload: errorFor(err)}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) writePump(conn *websocket.Conn, send <-chan outboundMessage[any], clientID string) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("client_id", clientID).Msg("ws write failed")
				_ = conn.Close()
				// Keep draining so the reader never blocks on a dead connection.
				for range send {
				}
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("client_id", clientID).Msg("ws ping failed")
				_ = conn.Close()
				for range send {
				}
				return
			}
		}
	}
}

// participant resolves the caller from the query string. Hosts prove their identity with a
// token when a verifier is configured; otherwise the hostId parameter is trusted.
func (h *WSHandler) participant(r *http.Request, gameID string) (domain.Participant, error) {
	q := r.URL.Query()
	p := domain.Participant{
		ClientID:    q.Get("clientId"),
		DisplayName: q.Get("name"),
		Role:        domain.Role(q.Get("role")),
		TeamID:      q.Get("teamId"),
	}
	if p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}
	if p.Role == "" {
		p.Role = domain.RolePlayer
	}
	if p.Role != domain.RoleHost {
		return p, nil
	}

	if h.verifier.Enabled() {
		hostID, err := h.verifier.VerifyHost(q.Get("token"), gameID)
		if err != nil {
			return p, err
		}
		p.HostID = hostID
		return p, nil
	}
	p.HostID = q.Get("hostId")
	if p.HostID == "" {
		return p, domain.ErrUnauthorized
	}
	return p, nil
}

func (h *WSHandler) dispatch(ctx context.Context, gameID string, actor domain.Participant, inbound inboundMessage) error {
	var p actionPayload
	if len(inbound.Payload) > 0 {
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return domain.Invalid("payload", "invalid %s payload", inbound.Type)
		}
	}

	svc := h.service
	switch inbound.Type {
	case "select":
		return svc.SelectQuestion(ctx, gameID, actor, p.QuestionID)
	case "buzz":
		return svc.Buzz(ctx, gameID, actor, p.TeamID, p.Timestamp)
	case "clear":
		return svc.ClearBuzzers(ctx, gameID, actor)
	case "choose_team":
		return svc.ChooseTeam(ctx, gameID, actor, p.TeamID)
	case "wager":
		return svc.SubmitWager(ctx, gameID, actor, p.TeamID, p.Amount)
	case "judge":
		return svc.Judge(ctx, gameID, actor, p.Correct)
	case "close":
		return svc.CloseQuestion(ctx, gameID, actor)
	case "final_open":
		return svc.OpenFinal(ctx, gameID, actor, p.Category)
	case "final_wager":
		return svc.SubmitFinalWager(ctx, gameID, actor, p.TeamID, p.Amount)
	case "final_answer":
		return svc.SubmitFinalAnswer(ctx, gameID, actor, p.TeamID, p.Answer)
	case "final_judge":
		return svc.JudgeFinal(ctx, gameID, actor, p.TeamID, p.Correct)
	case "reconcile":
		_, err := svc.Reconcile(ctx, gameID)
		return err
	case "dismiss":
		return svc.DismissWarning(ctx, gameID, actor)
	default:
		return domain.Invalid("type", "unsupported message type %q", inbound.Type)
	}
}

func errorFor(err error) errorPayload {
	code := "internal"
	switch {
	case domain.IsValidation(err):
		code = "invalid"
	case errors.Is(err, domain.ErrUnauthorized):
		code = "unauthorized"
	case domain.IsNotFound(err):
		code = "not_found"
	case errors.Is(err, domain.ErrSessionClosed):
		code = "closed"
	case domain.IsTransient(err):
		code = "unavailable"
	}
	return errorPayload{Code: code, Message: err.Error()}
}

func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
