// Odds On transport
//
// Each client holds one websocket on $prefix/ws for its whole visit. Frames
// are JSON envelopes handed to the protocol package, which owns all game
// state; this file only moves bytes.
//
// Features:
// - A fresh player id (uuid) per connection; no cookies, no resumption
// - Bounded outbound queue per connection; clients that cannot keep up are dropped
// - Token-bucket rate limit on inbound events, answered with rate_limited
// - Ping/pong keepalive; silent connections are closed after two intervals
// - Optional origin allow-list for browser clients
// - PNG QR code of a room's share link on $prefix/rooms/:roomid/qr, backed by go-qrcode

package main

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Seednode/oddson/internal/protocol"
	"github.com/Seednode/oddson/internal/rooms"
)

const qrSize = 320

type client struct {
	id     rooms.PlayerID
	conn   *websocket.Conn
	send   chan protocol.Message
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func (c *client) ID() rooms.PlayerID {
	return c.id
}

// Send queues msg for the write pump without blocking. A client whose queue
// is already full is closed, and its session cleanup follows from the read
// pump failing.
func (c *client) Send(msg protocol.Message) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.logger.Warn("dropping slow client",
			zap.String("event", msg.Event),
			zap.Int("queued", len(c.send)),
		)
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump(sess *protocol.Session, cfg *Config, limiter *rate.Limiter) {
	deadline := 2 * cfg.pingInterval

	c.conn.SetReadLimit(cfg.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}

			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))

		if !limiter.Allow() {
			sess.Reject(rooms.ErrRateLimited)

			continue
		}

		if kind != websocket.TextMessage {
			sess.Reject(rooms.Invalid("Only text messages are accepted"))

			continue
		}

		sess.Handle(frame)
	}
}

func (c *client) writePump(cfg *Config) {
	ticker := time.NewTicker(cfg.pingInterval)

	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))

			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write failed", zap.String("event", msg.Event), zap.Error(err))

				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping failed", zap.Error(err))

				return
			}
		case <-c.done:
			return
		}
	}
}

// checkOrigin admits every origin unless --allowed-origin is set. Requests
// without an Origin header come from non-browser clients and are admitted.
func checkOrigin(cfg *Config, r *http.Request) bool {
	if cfg.allowedOrigin == "" {
		return true
	}

	origin := r.Header.Get("Origin")

	return origin == "" || strings.EqualFold(origin, cfg.allowedOrigin)
}

func serveWS(cfg *Config, logger *zap.Logger, handler *protocol.Handler) httprouter.Handle {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: timeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(cfg, r)
		},
	}

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", zap.String("remote", realIP(r)), zap.Error(err))

			return
		}

		id := rooms.PlayerID(uuid.NewString())

		c := &client{
			id:     id,
			conn:   conn,
			send:   make(chan protocol.Message, cfg.sendBuffer),
			done:   make(chan struct{}),
			logger: logger.With(zap.String("player", string(id)), zap.String("remote", realIP(r))),
		}

		sess := handler.Open(c)

		defer func() {
			c.close()
			sess.Close()
		}()

		go c.writePump(cfg)

		c.readPump(sess, cfg, rate.NewLimiter(rate.Limit(cfg.rateLimit), cfg.rateBurst))
	}
}

// shareURL is the link a second player follows to join room id.
func shareURL(cfg *Config, r *http.Request, id rooms.RoomID) string {
	scheme := cfg.scheme()
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + "/?room=" + url.QueryEscape(string(id))
}

func serveQR(cfg *Config, logger *zap.Logger, registry *rooms.Registry, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		id := rooms.RoomID(ps.ByName("roomid"))

		if _, err := registry.GetRoom(id); err != nil {
			http.Error(w, "room not found", http.StatusNotFound)

			return
		}

		png, err := qrcode.Encode(shareURL(cfg, r, id), qrcode.Medium, qrSize)
		if err != nil {
			logger.Error("qr generation failed", zap.String("room", string(id)), zap.Error(err))
			http.Error(w, "qr generation failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		written, err := w.Write(png)
		if err != nil {
			errs <- err

			return
		}

		logServed(logger, "qr code", r, written, startTime)
	}
}

// registerOddsOn sets up routes so that:
//   - $prefix/ws                 → websocket carrying game events
//   - $prefix/rooms/:roomid/qr   → PNG QR code for the room's share link
func registerOddsOn(cfg *Config, logger *zap.Logger, registry *rooms.Registry, handler *protocol.Handler, errs chan<- error, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, logger.Named("transport"), handler))

	mux.GET(cfg.prefix+"/rooms/:roomid/qr", serveQR(cfg, logger, registry, errs))
}
