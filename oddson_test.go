package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Seednode/oddson/internal/protocol"
	"github.com/Seednode/oddson/internal/rooms"
)

func dial(t *testing.T, ts *testServer, header http.Header) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect reads the next event from conn, requires it to be named event and
// decodes its payload into T.
func expect[T any](t *testing.T, conn *websocket.Conn, event string) T {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, event, env.Event, "payload: %s", env.Data)

	var data T
	if len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, &data))
	}

	return data
}

func TestWebsocket_Scenario(t *testing.T) {
	ts := newTestServer(t, testConfig())
	a := dial(t, ts, nil)
	b := dial(t, ts, nil)

	emit(t, a, protocol.EventJoinGame, protocol.JoinGame{PlayerName: "Alice"})
	joined := expect[protocol.GameJoined](t, a, protocol.EventGameJoined)
	require.True(t, joined.Success)
	assert.Equal(t, rooms.StateWaiting, joined.Room.GameState)
	assert.Len(t, joined.Room.Players, 1)
	id := joined.RoomID

	emit(t, b, protocol.EventJoinGame, protocol.JoinGame{PlayerName: "Bob", RoomID: id})
	assert.Len(t, expect[protocol.GameJoined](t, b, protocol.EventGameJoined).Room.Players, 2)
	assert.Len(t, expect[protocol.PlayerJoined](t, a, protocol.EventPlayerJoined).Room.Players, 2)

	emit(t, a, protocol.EventCreateProposal, protocol.CreateProposal{
		RoomID: id,
		Terms:  protocol.Terms{Dare: "sing a song", MaxRange: 10},
	})
	created := expect[protocol.ProposalCreated](t, b, protocol.EventProposalCreated)
	expect[protocol.ProposalCreated](t, a, protocol.EventProposalCreated)
	require.NotNil(t, created.CurrentNegotiator)
	assert.NotEqual(t, joined.Player.ID, *created.CurrentNegotiator)

	emit(t, b, protocol.EventRespondToProposal, protocol.RespondToProposal{
		RoomID:     id,
		ProposalID: created.Proposal.ID,
		Action:     protocol.ActionAccept,
	})
	for _, c := range []*websocket.Conn{a, b} {
		accepted := expect[protocol.ProposalAccepted](t, c, protocol.EventProposalAccepted)
		assert.Equal(t, protocol.Terms{Dare: "sing a song", MaxRange: 10}, accepted.FinalSettings)
	}

	four := 4
	emit(t, a, protocol.EventMakeChoice, protocol.MakeChoice{RoomID: id, Choice: &four})
	progress := expect[protocol.ChoiceMade](t, b, protocol.EventChoiceMade)
	assert.Equal(t, 1, progress.ChoicesMade)
	assert.Equal(t, 2, progress.TotalPlayers)

	emit(t, b, protocol.EventMakeChoice, protocol.MakeChoice{RoomID: id, Choice: &four})
	for _, c := range []*websocket.Conn{a, b} {
		results := expect[protocol.GameResults](t, c, protocol.EventGameResults)
		assert.True(t, results.IsMatch)
		assert.Equal(t, "sing a song", results.Dare)
		assert.Len(t, results.Choices, 2)
	}

	emit(t, a, protocol.EventResetGame, id)
	expect[struct{}](t, a, protocol.EventGameReset)
	expect[struct{}](t, b, protocol.EventGameReset)
}

func TestWebsocket_DisconnectNotifiesOpponent(t *testing.T) {
	ts := newTestServer(t, testConfig())
	a := dial(t, ts, nil)
	b := dial(t, ts, nil)

	emit(t, a, protocol.EventJoinGame, protocol.JoinGame{PlayerName: "Alice"})
	id := expect[protocol.GameJoined](t, a, protocol.EventGameJoined).RoomID
	emit(t, b, protocol.EventJoinGame, protocol.JoinGame{PlayerName: "Bob", RoomID: id})
	bob := expect[protocol.GameJoined](t, b, protocol.EventGameJoined).Player
	expect[protocol.PlayerJoined](t, a, protocol.EventPlayerJoined)

	require.NoError(t, a.Close())

	left := expect[protocol.PlayerLeft](t, b, protocol.EventPlayerLeft)
	assert.Equal(t, []rooms.Player{bob}, left.RemainingPlayers)

	require.NoError(t, b.Close())

	assert.Eventually(t, func() bool {
		return ts.registry.Len() == 0 && ts.handler.Connections() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebsocket_ErrorsGoToTheRequester(t *testing.T) {
	ts := newTestServer(t, testConfig())
	a := dial(t, ts, nil)

	emit(t, a, protocol.EventJoinGame, protocol.JoinGame{PlayerName: "Alice", RoomID: "NOPE42"})
	failure := expect[protocol.ErrorMessage](t, a, protocol.EventError)
	assert.Equal(t, rooms.KindRoomNotFound, failure.Kind)
	assert.NotEmpty(t, failure.Message)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, rooms.KindInvalidRequest, expect[protocol.ErrorMessage](t, a, protocol.EventError).Kind)

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte(`{"event":"join-game"}`)))
	assert.Equal(t, rooms.KindInvalidRequest, expect[protocol.ErrorMessage](t, a, protocol.EventError).Kind)

	assert.Equal(t, 0, ts.registry.Len())
}

func TestWebsocket_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.rateLimit = 0.001
	cfg.rateBurst = 1
	ts := newTestServer(t, cfg)
	a := dial(t, ts, nil)

	emit(t, a, protocol.EventResetGame, protocol.ResetGame{RoomID: "NOPE42"})
	emit(t, a, protocol.EventResetGame, protocol.ResetGame{RoomID: "NOPE42"})

	assert.Equal(t, rooms.KindRoomNotFound, expect[protocol.ErrorMessage](t, a, protocol.EventError).Kind)
	assert.Equal(t, rooms.KindRateLimited, expect[protocol.ErrorMessage](t, a, protocol.EventError).Kind)
}

func TestWebsocket_OversizedMessageCloses(t *testing.T) {
	cfg := testConfig()
	cfg.maxMessageSize = 64
	ts := newTestServer(t, cfg)
	a := dial(t, ts, nil)

	emit(t, a, protocol.EventJoinGame, protocol.JoinGame{PlayerName: strings.Repeat("x", 256)})

	require.NoError(t, a.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := a.ReadMessage()
	assert.Error(t, err)

	assert.Eventually(t, func() bool {
		return ts.handler.Connections() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebsocket_KeepalivePings(t *testing.T) {
	cfg := testConfig()
	cfg.pingInterval = 50 * time.Millisecond
	ts := newTestServer(t, cfg)
	a := dial(t, ts, nil)

	pinged := make(chan struct{}, 1)
	a.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return a.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	go func() {
		for {
			if _, _, err := a.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no ping received")
	}

	time.Sleep(6 * cfg.pingInterval)
	assert.Equal(t, 1, ts.handler.Connections(), "a client answering pings stays connected")
}

func TestWebsocket_SilentClientIsClosed(t *testing.T) {
	cfg := testConfig()
	cfg.pingInterval = 20 * time.Millisecond
	ts := newTestServer(t, cfg)
	dial(t, ts, nil)

	assert.Eventually(t, func() bool {
		return ts.handler.Connections() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebsocket_AllowedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.allowedOrigin = "https://oddson.example"
	ts := newTestServer(t, cfg)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://elsewhere.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, ts, http.Header{"Origin": {"https://oddson.example"}})
}

func TestCheckOrigin(t *testing.T) {
	cases := []struct {
		allowed, origin string
		want            bool
	}{
		{"", "https://anywhere.example", true},
		{"https://oddson.example", "", true},
		{"https://oddson.example", "https://oddson.example", true},
		{"https://oddson.example", "HTTPS://ODDSON.EXAMPLE", true},
		{"https://oddson.example", "https://elsewhere.example", false},
	}

	for _, tc := range cases {
		cfg := testConfig()
		cfg.allowedOrigin = tc.allowed

		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}

		assert.Equal(t, tc.want, checkOrigin(cfg, r), "allowed %q, origin %q", tc.allowed, tc.origin)
	}
}

// serverConn returns the server side of a live websocket connection.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()

	conns := make(chan *websocket.Conn, 1)
	mux := httprouter.New()
	mux.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	select {
	case conn := <-conns:
		return conn
	case <-time.After(5 * time.Second):
		require.FailNow(t, "upgrade did not complete")
		return nil
	}
}

func TestClient_SlowConsumerIsClosed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	c := &client{
		id:     "p-slow",
		conn:   serverConn(t),
		send:   make(chan protocol.Message, 1),
		done:   make(chan struct{}),
		logger: zap.New(core),
	}

	c.Send(protocol.Message{Event: protocol.EventGameReset})
	select {
	case <-c.done:
		require.FailNow(t, "closed before the queue filled")
	default:
	}

	c.Send(protocol.Message{Event: protocol.EventGameReset})
	select {
	case <-c.done:
	default:
		require.FailNow(t, "a full queue must close the client")
	}

	assert.Equal(t, 1, logs.FilterMessage("dropping slow client").Len())

	assert.NotPanics(t, func() {
		c.Send(protocol.Message{Event: protocol.EventGameReset})
		c.close()
	})
	assert.Equal(t, 1, logs.Len(), "sends after close are dropped silently")
}

func TestServeQR(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.registry.CreateRoom()

	resp, body := get(t, ts.URL+"/rooms/"+string(id)+"/qr")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix([]byte(body), []byte("\x89PNG\r\n\x1a\n")))

	resp, _ = get(t, ts.URL+"/rooms/NOPE42/qr")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShareURL(t *testing.T) {
	cfg := testConfig()

	r := httptest.NewRequest(http.MethodGet, "/rooms/AbC123/qr", nil)
	r.Host = "oddson.example:8080"
	assert.Equal(t, "http://oddson.example:8080/?room=AbC123", shareURL(cfg, r, "AbC123"))

	r.Header.Set("X-Forwarded-Proto", "https")
	cfg.prefix = "/odds"
	assert.Equal(t, "https://oddson.example:8080/odds/?room=AbC123", shareURL(cfg, r, "AbC123"))
}
