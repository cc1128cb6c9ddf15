package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/chesscom-crawler/internal/config"
	memorypublisher "github.com/JakeFAU/chesscom-crawler/internal/publisher/memory"
	"github.com/JakeFAU/chesscom-crawler/internal/worker"
)

func testConfig(baseURL string, seeds ...string) config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			BaseURL:        baseURL,
			Seeds:          seeds,
			Concurrency:    1,
			OverflowPolicy: "drop",
			RateLimitBurst: 1,
		},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5},
		Storage: config.StorageConfig{Prefix: "payloads"},
	}
}

func startApp(t *testing.T, cfg config.Config, opts ...Option) (*App, func()) {
	t.Helper()

	opts = append([]Option{WithRegisterer(prometheus.NewRegistry())}, opts...)
	a, err := New(context.Background(), cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	return a, func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("app did not stop")
		}
		require.NoError(t, a.Close(context.Background()))
	}
}

func TestAppSeedWithNoPlayers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"players":[]}`))
	}))
	defer srv.Close()

	a, stop := startApp(t, testConfig(srv.URL, srv.URL+"/pub/country/XX/players"))

	require.Eventually(t, func() bool { return a.Stats().Processed() == 1 }, 3*time.Second, 5*time.Millisecond)
	stop()

	s := a.Stats()
	require.Equal(t, 0, s.Pending())
	require.Equal(t, 1, s.Processed())
	require.Equal(t, 0, s.Throttled())
	require.Greater(t, s.AverageLatency(), time.Duration(0))
}

func TestAppExpandsPlayersAndArchives(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls[r.URL.Path]++
		n := calls[r.URL.Path]
		mu.Unlock()

		switch r.URL.Path {
		case "/pub/country/XX/players":
			_, _ = w.Write([]byte(`{"players":["alice","bob","carol"]}`))
		case "/pub/player/alice/stats":
			_, _ = w.Write([]byte(`{"chess_daily":{}}`))
		case "/pub/player/bob/stats":
			if n == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusGone)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := testConfig(srv.URL, srv.URL+"/pub/country/XX/players")
	cfg.Storage.OutputDir = dir
	report := &syncBuffer{}
	cfg.Report = config.ReportConfig{Enabled: true, Interval: 10 * time.Millisecond}
	cfg.PubSub.TopicName = "attempts"
	pub := memorypublisher.New()

	a, stop := startApp(t, cfg, WithReportWriter(report), WithPublisher(pub))

	require.Eventually(t, func() bool { return a.Stats().Processed() == 5 }, 3*time.Second, 5*time.Millisecond)
	stop()

	snap := a.Stats().Snapshot()
	require.Equal(t, 0, snap.Pending)
	require.Equal(t, 1, snap.Throttled)
	require.Equal(t, 1, snap.Gone)
	require.Equal(t, 3, snap.Succeeded)

	mu.Lock()
	require.Equal(t, 2, calls["/pub/player/bob/stats"])
	require.Equal(t, 1, calls["/pub/player/carol/stats"])
	mu.Unlock()

	var archived []string
	require.NoError(t, filepath.Walk(filepath.Join(dir, "payloads"), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".json") {
			archived = append(archived, path)
		}
		return nil
	}))
	require.Len(t, archived, 3)

	msgs := pub.Messages()
	require.Len(t, msgs, 5)
	first, ok := msgs[0].Payload.(worker.Notice)
	require.True(t, ok)
	require.Equal(t, "attempts", msgs[0].Topic)
	require.Equal(t, "success", first.Outcome)
	require.Equal(t, 3, first.Discovered)
	require.True(t, strings.HasPrefix(first.ArchiveURI, "file://"))

	require.Contains(t, report.String(), "Processed requests: 5")
	require.Contains(t, report.String(), "Too many requests: 1")
}

func TestAppHandlerServesStats(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig("https://api.chess.com"), nil, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"pending":0,"dropped":0,"processed":0,"throttled":0,"gone":0,"failed":0,"succeeded":0,"average_latency_ms":0}`,
		rec.Body.String())
}

func TestAppInitFailsOnBadOutputDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig("https://api.chess.com")
	cfg.Storage.OutputDir = file
	_, err := New(context.Background(), cfg, nil, WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "open local archive")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
