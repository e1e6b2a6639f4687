package http

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
)

// WSHandler binds WebSocket connections to room sessions. Each connection is
// resolved to exactly one RoomSession on attach; every subsequent event on the
// socket is handled by that session's actor.
type WSHandler struct {
	manager  *app.RoomSessionManager
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(manager *app.RoomSessionManager, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.With().Str("component", "ws").Logger(),
	}
}

// inboundMessage is the wire envelope. The Type values handled in ServeWS are
// the closed inbound vocabulary; anything else is answered with a typed error
// rather than silently dropped.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	QuestionRef string `json:"questionRef"`
	Choice      string `json:"choice"`
	Seq         uint64 `json:"seq"`
}

type finishPayload struct {
	TimeTakenMS int64 `json:"timeTaken"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type chatPayload struct {
	Text string `json:"text"`
}

type flagPayload struct {
	QuestionRef string `json:"questionRef"`
	Flagged     bool   `json:"flagged"`
}

// wsClient adapts one websocket connection to the app.Sender contract. All
// writes (acks and broadcasts alike) funnel through the send channel into a
// single writer goroutine, preserving the actor's emission order on the wire.
type wsClient struct {
	send      chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient() *wsClient {
	return &wsClient{
		send: make(chan domain.Event, 32),
		done: make(chan struct{}),
	}
}

// Send is non-blocking: a full buffer means the client is too slow and the
// event is dropped, which is acceptable for fire-and-forget broadcast. The
// next snapshot-carrying event resynchronizes such a client.
func (c *wsClient) Send(ev domain.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ServeWS upgrades the request and runs the connection's read loop. The user
// id is presumed resolved by the identity layer upstream; an empty id gets an
// ephemeral guest identity.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("room")
	userID := r.URL.Query().Get("user")
	displayName := r.URL.Query().Get("name")
	if roomCode == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	if userID == "" {
		userID = "guest-" + uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	client := newWSClient()
	defer client.close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case ev := <-client.send:
				if err := conn.WriteJSON(ev); err != nil {
					h.log.Debug().Err(err).Msg("ws write error")
					return
				}
			case <-client.done:
				return
			}
		}
	}()

	session, err := h.manager.GetOrCreate(r.Context(), roomCode)
	if err != nil {
		_ = conn.WriteJSON(domain.NewErrorEvent(err))
		return
	}

	snapshot, err := session.Join(userID, displayName, client)
	if err != nil {
		_ = conn.WriteJSON(domain.NewErrorEvent(err))
		return
	}
	client.Send(domain.Event{Type: domain.EventRoomStateSnapshot, Payload: snapshot})

	log := h.log.With().Str("room", roomCode).Str("user", userID).Logger()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if done := h.handleInbound(session, client, userID, inbound, log); done {
			break
		}
	}

	session.Detach(userID, client)
	client.close()
	<-writerDone
}

// handleInbound dispatches one client event and reports whether the
// connection should close. Every branch answers on the issuing connection:
// either the operation's event or a typed error.
func (h *WSHandler) handleInbound(session *app.RoomSession, client *wsClient, userID string, inbound inboundMessage, log zerolog.Logger) bool {
	switch inbound.Type {
	case "join":
		// Re-sync request from an already-attached client.
		snapshot, err := session.Join(userID, "", client)
		if err != nil {
			client.Send(domain.NewErrorEvent(err))
			return false
		}
		client.Send(domain.Event{Type: domain.EventRoomStateSnapshot, Payload: snapshot})

	case "start":
		if err := session.Start(userID); err != nil {
			client.Send(domain.NewErrorEvent(err))
		}

	case "submit_answer":
		var p submitPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			client.Send(domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Code: "bad_payload", Message: "invalid submit_answer payload"}})
			return false
		}
		outcome, score, err := session.Submit(userID, p.QuestionRef, p.Choice, p.Seq)
		if err != nil {
			client.Send(domain.NewErrorEvent(err))
			return false
		}
		client.Send(domain.Event{Type: domain.EventSubmitResult, Payload: domain.SubmitResultPayload{
			QuestionRef: p.QuestionRef,
			Outcome:     string(outcome),
			Score:       score,
		}})

	case "finish":
		var p finishPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			client.Send(domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Code: "bad_payload", Message: "invalid finish payload"}})
			return false
		}
		score, already, err := session.Finish(userID, p.TimeTakenMS)
		if err != nil {
			client.Send(domain.NewErrorEvent(err))
			return false
		}
		client.Send(domain.Event{Type: domain.EventFinishResult, Payload: domain.FinishResultPayload{Score: score, AlreadyDone: already}})

	case "navigate":
		var p navigatePayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			client.Send(domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Code: "bad_payload", Message: "invalid navigate payload"}})
			return false
		}
		if err := session.Navigate(userID, p.Index); err != nil {
			client.Send(domain.NewErrorEvent(err))
		}

	case "chat":
		var p chatPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			client.Send(domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Code: "bad_payload", Message: "invalid chat payload"}})
			return false
		}
		if _, err := session.Chat(userID, p.Text); err != nil {
			client.Send(domain.NewErrorEvent(err))
		}

	case "reset":
		if err := session.Reset(userID); err != nil {
			client.Send(domain.NewErrorEvent(err))
		}

	case "close":
		if err := session.CloseRoom(userID); err != nil {
			client.Send(domain.NewErrorEvent(err))
		}

	case "flag_question":
		var p flagPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			client.Send(domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Code: "bad_payload", Message: "invalid flag_question payload"}})
			return false
		}
		if err := session.Flag(userID, p.QuestionRef, p.Flagged); err != nil {
			client.Send(domain.NewErrorEvent(err))
			return false
		}
		client.Send(domain.Event{Type: domain.EventFlagResult, Payload: domain.FlagResultPayload{QuestionRef: p.QuestionRef, Flagged: p.Flagged}})

	case "leave":
		if err := session.Leave(userID, client); err != nil {
			client.Send(domain.NewErrorEvent(err))
			return false
		}
		return true

	default:
		log.Debug().Str("type", inbound.Type).Msg("unsupported message type")
		client.Send(domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Code: "unsupported", Message: "unsupported message type"}})
	}
	return false
}
