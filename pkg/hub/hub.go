// Package hub fans canvas changes out to every connected participant of a
// session. One Hub exists per session; it owns the live participant set and
// is the only writer on the session's store while a socket change is being
// applied, so all participants observe document versions in commit order.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/kristofsajdak/claude-whiteboard/pkg/canvas"
	"github.com/kristofsajdak/claude-whiteboard/pkg/store"
	"github.com/kristofsajdak/claude-whiteboard/pkg/wire"
)

type participant struct {
	id   string
	name string
	conn *websocket.Conn
}

// Hub relays document changes between the store and the connected sockets.
type Hub struct {
	store *store.Store

	mu           sync.Mutex
	participants map[string]*participant
}

func New(st *store.Store) *Hub {
	return &Hub{
		store:        st,
		participants: map[string]*participant{},
	}
}

// ServeHTTP upgrades the request to a websocket and runs the connection's
// read loop until the socket closes.
func (h *Hub) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	p := &participant{id: ulid.Make().String(), conn: conn}
	if err := h.connect(request.Context(), p); err != nil {
		slog.Error("failed to join participant", "id", p.id, "err", err)
		return
	}
	defer h.disconnect(p)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("participant read loop ended", "id", p.id, "err", err)
			return
		}
		h.handleMessage(request.Context(), p, data)
	}
}

// connect registers the participant, pushes the current document to it so a
// joiner sees current state before any edits, and tells everyone the new
// participant count.
func (h *Hub) connect(ctx context.Context, p *participant) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.store.Document(ctx)
	if err != nil {
		return err
	}
	msg, err := wire.NewCanvasUpdate(doc)
	if err != nil {
		return err
	}
	h.participants[p.id] = p
	h.sendLocked(p, mustMarshal(msg))
	h.broadcastLocked(mustMarshal(wire.NewParticipantsUpdate(len(h.participants))), "")
	return nil
}

// disconnect is idempotent; the participant slot is freed immediately.
func (h *Hub) disconnect(p *participant) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.participants[p.id]; !ok {
		return
	}
	delete(h.participants, p.id)
	h.broadcastLocked(mustMarshal(wire.NewParticipantsUpdate(len(h.participants))), "")
}

func (h *Hub) handleMessage(ctx context.Context, p *participant, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		slog.Error("dropping malformed message", "id", p.id, "err", err)
		return
	}
	switch msg.Type {
	case wire.TypeCanvasChange:
		doc, err := msg.Canvas()
		if err != nil {
			slog.Error("dropping malformed canvas change", "id", p.id, "err", err)
			return
		}
		h.applyClientChange(ctx, p, doc)
	case wire.TypeClientName:
		name, err := msg.ClientName()
		if err != nil {
			slog.Error("dropping malformed name announcement", "id", p.id, "err", err)
			return
		}
		h.mu.Lock()
		p.name = name
		h.broadcastLocked(mustMarshal(wire.NewParticipantsUpdate(len(h.participants))), "")
		h.mu.Unlock()
	default:
		slog.Info("ignoring unknown message type", "id", p.id, "type", msg.Type)
	}
}

// applyClientChange treats the incoming document as the new authoritative
// state: persist it, then relay it to every participant except the sender.
// Last write wins; no merge with intervening edits is attempted.
func (h *Hub) applyClientChange(ctx context.Context, p *participant, doc canvas.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.SetDocument(ctx, doc); err != nil {
		slog.Error("failed to persist client change", "id", p.id, "err", err)
		return
	}
	msg, err := wire.NewCanvasUpdate(doc)
	if err != nil {
		slog.Error("failed to encode update", "err", err)
		return
	}
	h.broadcastLocked(mustMarshal(msg), p.id)
}

// PublishExternal persists a REST-origin document and fans it out to every
// participant. Nobody authored it over a socket, so nobody is excluded.
func (h *Hub) PublishExternal(ctx context.Context, doc canvas.Document) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.SetDocument(ctx, doc); err != nil {
		return err
	}
	msg, err := wire.NewCanvasUpdate(doc)
	if err != nil {
		return err
	}
	h.broadcastLocked(mustMarshal(msg), "")
	return nil
}

// BroadcastDocument fans an already-persisted document out to everyone,
// used after a savepoint restore.
func (h *Hub) BroadcastDocument(doc canvas.Document) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg, err := wire.NewCanvasUpdate(doc)
	if err != nil {
		return err
	}
	h.broadcastLocked(mustMarshal(msg), "")
	return nil
}

// ParticipantCount returns the current number of connected participants.
func (h *Hub) ParticipantCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.participants)
}

// broadcastLocked sends the pre-serialized frame to every participant except
// excludeID. A failed send never aborts delivery to the rest; the broken
// connection is reaped when its own read loop exits.
func (h *Hub) broadcastLocked(data []byte, excludeID string) {
	for id, p := range h.participants {
		if id == excludeID {
			continue
		}
		h.sendLocked(p, data)
	}
}

func (h *Hub) sendLocked(p *participant, data []byte) {
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("failed to send to participant", "id", p.id, "err", err)
	}
}

func mustMarshal(m wire.Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return data
}
