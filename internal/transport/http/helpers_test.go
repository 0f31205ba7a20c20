package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/huddle-server/internal/auth"
	"github.com/vovakirdan/huddle-server/internal/config"
	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/proto"
	"github.com/vovakirdan/huddle-server/internal/store/memory"
)

// frame is an outbound envelope with the payload left raw for the test to decode.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

type testServer struct {
	*httptest.Server
	hub   core.Hub
	store *memory.Store
}

func startTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.AllowedOrigins = []string{"*"}
	cfg.RateLimitPerMinute = 0
	cfg.MetricsEnabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	st := memory.New()
	hub := core.NewHub(st, &logger, core.WithMaxContentBytes(int(cfg.MaxMessageBytes)))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	var verifier *auth.Verifier
	if cfg.JWTEnabled() {
		verifier = auth.NewVerifier(jwtConfig(&cfg), cfg.JWTRequired)
	}

	ts := httptest.NewServer(NewServer(hub, verifier, &cfg, &logger).Handler)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, hub: hub, store: st}
}

func jwtConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	}
}

func (ts *testServer) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: raw}))
}

// readUntil skips frames until one matches event, or an error frame when event is "error".
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) frame {
	t.Helper()
	for {
		var f frame
		require.NoError(t, wsjson.Read(ctx, conn, &f), "waiting for %s", event)
		if event == proto.OutboundTypeError && f.Type == proto.OutboundTypeError {
			return f
		}
		if f.Type == proto.OutboundTypeEvent && f.Event == event {
			return f
		}
	}
}

// register registers user and waits for the acknowledgement.
func register(t *testing.T, ctx context.Context, conn *websocket.Conn, data proto.RegisterData) proto.RegisteredData {
	t.Helper()
	send(t, ctx, conn, proto.EventRegisterUser, data)
	var ack proto.RegisteredData
	require.NoError(t, json.Unmarshal(readUntil(t, ctx, conn, proto.EventRegistered).Data, &ack))
	return ack
}
