package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chesscom-crawler/internal/config"
	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
	"github.com/JakeFAU/chesscom-crawler/internal/dispatcher"
	"github.com/JakeFAU/chesscom-crawler/internal/hash/sha256"
	ledgermem "github.com/JakeFAU/chesscom-crawler/internal/ledger/memory"
	queuemem "github.com/JakeFAU/chesscom-crawler/internal/queue/memory"
	"github.com/JakeFAU/chesscom-crawler/internal/stats"
)

type testEnv struct {
	server *Server
	queue  *queuemem.Queue
	ledger *ledgermem.Ledger
}

func newTestEnv(cfg config.Config, opts ...queuemem.Option) testEnv {
	q := queuemem.NewQueue(opts...)
	l := ledgermem.NewLedger()
	d := dispatcher.New(q, nil, nil)
	return testEnv{
		server: NewServer(d, stats.New(q, l), l, cfg, zap.NewNop()),
		queue:  q,
		ledger: l,
	}
}

func newTestServer() *Server {
	return newTestEnv(config.Config{}).server
}

func serve(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/readyz", nil).Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	serve(s, http.MethodGet, "/healthz", nil)
	rec := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "chesscrawler_http_requests_total")
}

func TestServer_Stats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	require.NoError(t, env.queue.Enqueue(context.Background(), crawler.NewWorkItem("https://api.chess.com/pub/player/a/stats")))
	env.ledger.Append(crawler.Attempt{Outcome: crawler.OutcomeSuccess, Elapsed: 1234567 * time.Nanosecond})
	env.ledger.Append(crawler.Attempt{Outcome: crawler.OutcomeRateLimited, Elapsed: 1234567 * time.Nanosecond})

	rec := serve(env.server, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, statsResponse{
		Pending:          1,
		Processed:        2,
		Throttled:        1,
		Succeeded:        1,
		AverageLatencyMS: 1.23,
	}, got)
}

func TestServer_Attempts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{})
	for i := 0; i < 3; i++ {
		env.ledger.Append(crawler.Attempt{
			ID:         fmt.Sprint(i),
			Target:     "https://api.chess.com/pub/player/a/stats",
			Attempt:    1,
			Outcome:    crawler.OutcomeGone,
			StatusCode: http.StatusGone,
			Elapsed:    2 * time.Millisecond,
		})
	}

	rec := serve(env.server, http.MethodGet, "/v1/attempts?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Attempts []attemptView `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Attempts, 2)
	require.Equal(t, "2", body.Attempts[0].ID)
	require.Equal(t, "gone", body.Attempts[0].Outcome)
	require.InDelta(t, 2.0, body.Attempts[0].ElapsedMS, 1e-9)

	rec = serve(env.server, http.MethodGet, "/v1/attempts", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Attempts, 3)
}

func TestServer_AttemptsInvalidLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	for _, limit := range []string{"0", "-1", "abc"} {
		rec := serve(s, http.MethodGet, "/v1/attempts?limit="+limit, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}
}

func TestServer_SubmitTargets(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{}, queuemem.WithDedupe(sha256.New()))
	body := []byte(`{"targets":["https://api.chess.com/pub/country/NO/players","https://api.chess.com/pub/country/NO/players"]}`)
	rec := serve(env.server, http.MethodPost, "/v1/targets", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"accepted":1,"offered":2}`, rec.Body.String())
	item, ok := env.queue.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 1, item.Attempt)
	require.Equal(t, "https://api.chess.com/pub/country/NO/players", item.Target)
}

func TestServer_SubmitTargetsRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"invalid json": `{invalid`,
		"empty":        `{"targets":[]}`,
		"relative":     `{"targets":["/pub/player/a/stats"]}`,
		"scheme":       `{"targets":["ftp://api.chess.com/x"]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(config.Config{})
			rec := serve(env.server, http.MethodPost, "/v1/targets", []byte(body))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, 0, env.queue.Size())
		})
	}
}

func TestServer_SubmitPlayers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{Crawler: config.CrawlerConfig{BaseURL: "http://chess.test/"}})
	rec := serve(env.server, http.MethodPost, "/v1/players", []byte(`{"players":["hikaru","magnus carlsen"]}`))

	require.Equal(t, http.StatusAccepted, rec.Code)
	first, _ := env.queue.TryDequeue()
	second, _ := env.queue.TryDequeue()
	require.Equal(t, "http://chess.test/pub/player/hikaru/stats", first.Target)
	require.Equal(t, "http://chess.test/pub/player/magnus%20carlsen/stats", second.Target)

	rec = serve(env.server, http.MethodPost, "/v1/players", []byte(`{"players":[" "]}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitTargetsQueueFull(t *testing.T) {
	t.Parallel()

	env := newTestEnv(config.Config{}, queuemem.WithMaxDepth(1, queuemem.OverflowReject))
	require.NoError(t, env.queue.Enqueue(context.Background(), crawler.NewWorkItem("https://api.chess.com/a")))

	rec := serve(env.server, http.MethodPost, "/v1/targets", []byte(`{"targets":["https://api.chess.com/b"]}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestEnv(config.Config{
		Auth: config.AuthConfig{
			Enabled: true,
			APIKey:  "secret",
		},
	}).server

	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/v1/stats", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/stats?api_key=secret", nil).Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(), http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
