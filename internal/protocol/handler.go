/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package protocol turns inbound client events into room mutations and
// outbound broadcasts. It owns the game state machine; the rooms package
// owns existence and membership.
//
// Every event runs as a single registry.Do call: read, validate, mutate and
// broadcast all happen under the room's lock, so each event is atomic with
// respect to every other event on the same room and members observe
// broadcasts in mutation order.
package protocol

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Seednode/oddson/internal/rooms"
)

// Conn is one client connection as seen by the handler. Send must not block:
// delivery is best effort, and a connection that cannot keep up is expected
// to drop messages or close itself.
type Conn interface {
	ID() rooms.PlayerID
	Send(Message)
}

type Handler struct {
	registry *rooms.Registry
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	mu    sync.RWMutex
	conns map[rooms.PlayerID]Conn
}

type Option func(*Handler)

// WithClock sets the source of proposal timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithProposalIDs sets the proposal id generator.
func WithProposalIDs(newID func() string) Option {
	return func(h *Handler) {
		h.newID = newID
	}
}

func NewHandler(registry *rooms.Registry, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		conns:    make(map[rooms.PlayerID]Conn),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Session is a connection bound to the handler. It exists from Open until
// Close, and Close performs the disconnect cleanup exactly once.
type Session struct {
	handler *Handler
	conn    Conn
	once    sync.Once
}

// Open registers conn for targeted sends and room broadcasts.
func (h *Handler) Open(conn Conn) *Session {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.mu.Unlock()

	h.logger.Debug("connection opened", zap.String("player", string(conn.ID())))

	return &Session{handler: h, conn: conn}
}

// Handle decodes and routes one inbound frame. Failures are reported to the
// requester as an error event and never escape.
func (s *Session) Handle(frame []byte) {
	var env Envelope

	defer func() {
		if r := recover(); r != nil {
			s.handler.logger.Error("panic while handling event",
				zap.String("event", env.Event),
				zap.String("player", string(s.conn.ID())),
				zap.Any("panic", r),
			)
			s.Reject(rooms.ErrInvalidRequest)
		}
	}()

	if err := json.Unmarshal(frame, &env); err != nil {
		s.Reject(rooms.Invalid("Malformed message"))

		return
	}

	if err := s.handler.dispatch(s.conn, env); err != nil {
		s.handler.logger.Debug("request rejected",
			zap.String("event", env.Event),
			zap.String("player", string(s.conn.ID())),
			zap.String("kind", string(rooms.KindOf(err))),
			zap.Error(err),
		)
		s.Reject(err)
	}
}

// Reject sends err to this connection only, as an error event.
func (s *Session) Reject(err error) {
	var e *rooms.Error
	if !errors.As(err, &e) {
		e = rooms.ErrInvalidRequest
	}

	s.conn.Send(Message{
		Event: EventError,
		Data:  ErrorMessage{Kind: e.Kind, Message: e.Message},
	})
}

// Close removes the connection from every room it belongs to and notifies
// the remaining members.
func (s *Session) Close() {
	s.once.Do(func() {
		s.handler.disconnect(s.conn.ID())
	})
}

func (h *Handler) dispatch(c Conn, env Envelope) error {
	switch env.Event {
	case EventJoinGame:
		return withPayload(env.Data, func(req JoinGame) error { return h.join(c, req) })
	case EventLeaveGame:
		return withPayload(env.Data, func(req LeaveGame) error { return h.leave(c, req) })
	case EventCreateProposal:
		return withPayload(env.Data, func(req CreateProposal) error { return h.createProposal(c, req) })
	case EventRespondToProposal:
		return withPayload(env.Data, func(req RespondToProposal) error { return h.respondToProposal(c, req) })
	case EventSetGameSettings:
		return withPayload(env.Data, func(req SetGameSettings) error { return h.setGameSettings(c, req) })
	case EventMakeChoice:
		return withPayload(env.Data, func(req MakeChoice) error { return h.makeChoice(c, req) })
	case EventResetGame:
		return withPayload(env.Data, func(req ResetGame) error { return h.resetGame(c, req) })
	case "":
		return rooms.Invalid("Missing event name")
	default:
		return rooms.Invalid("Unknown event %q", env.Event)
	}
}

func withPayload[T any](data json.RawMessage, fn func(T) error) error {
	var req T

	if len(data) == 0 {
		return rooms.Invalid("Missing event payload")
	}

	if err := json.Unmarshal(data, &req); err != nil {
		return rooms.Invalid("Malformed event payload")
	}

	return fn(req)
}

func (h *Handler) disconnect(id rooms.PlayerID) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()

	remainders := h.registry.RemovePlayerFromAllRooms(id, func(room *rooms.Room) {
		h.broadcast(room, Message{
			Event: EventPlayerLeft,
			Data:  PlayerLeft{PlayerID: id, RemainingPlayers: slices.Clone(room.Players)},
		})
	})

	for _, rem := range remainders {
		h.logger.Info("player disconnected",
			zap.String("room", string(rem.Room.ID)),
			zap.String("player", string(id)),
			zap.Bool("room_deleted", rem.Deleted),
		)
	}

	h.logger.Debug("connection closed", zap.String("player", string(id)))
}

// broadcast sends msg to every member of room. Must be called under the
// room's lock.
func (h *Handler) broadcast(room *rooms.Room, msg Message) {
	h.broadcastExcept(room, "", msg)
}

// broadcastExcept sends msg to every member of room but skip.
func (h *Handler) broadcastExcept(room *rooms.Room, skip rooms.PlayerID, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, p := range room.Players {
		if p.ID == skip {
			continue
		}

		if c, ok := h.conns[p.ID]; ok {
			c.Send(msg)
		}
	}
}

// Connections returns the number of open sessions.
func (h *Handler) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

func (h *Handler) newProposal(proposer rooms.PlayerID, terms Terms) *rooms.Proposal {
	return &rooms.Proposal{
		ID:         h.newID(),
		ProposerID: proposer,
		Dare:       terms.Dare,
		MaxRange:   terms.MaxRange,
		Status:     rooms.ProposalPending,
		CreatedAt:  h.now(),
	}
}
