package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lettertool/internal/api"
	"lettertool/internal/config"
	"lettertool/internal/geo"
	"lettertool/internal/letters"
	"lettertool/internal/models"
	"lettertool/internal/observability"
	"lettertool/internal/ratelimit"
	"lettertool/internal/storage"
	"lettertool/internal/version"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests that exercise the whole stack over real HTTP

type testStack struct {
	cfg       *models.Config
	store     storage.Storage
	geoRouter *geo.Router
	server    *httptest.Server
	client    *http.Client
}

func writeConfig(t *testing.T, dir, redisAddr string, maxRequests int) string {
	t.Helper()
	content := fmt.Sprintf(`
storage:
  type: sqlite
  database:
    dsn: %q
geo:
  enabled: true
  header: X-Vercel-IP-Country
  default_country: de
  fallback_code: DE
rate_limit:
  enabled: true
  store: redis
  max_requests: %d
  window_seconds: 60
  key_prefix: "it:ratelimit"
redis:
  addr: %q
logging:
  level: error
metrics:
  enabled: false
`, filepath.Join(dir, "letters.db"), maxRequests, redisAddr)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// newStack builds the same wiring as the server binary from a config file.
func newStack(t *testing.T, configPath string, store storage.Storage) *testStack {
	t.Helper()

	cfg, err := config.Load(configPath)
	require.NoError(t, err)

	if store == nil {
		store, err = storage.NewFactory().Create(cfg.Storage)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
	}

	instrumented, err := observability.NewInstrumentedStorage(store)
	require.NoError(t, err)

	client, err := ratelimit.NewRedisClient(cfg.Redis)
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter(
		ratelimit.NewRedisStore(client, cfg.RateLimit.KeyPrefix),
		ratelimit.WithFallback(ratelimit.NewMemoryStore()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })

	geoRouter, err := geo.NewRouter(cfg.Geo)
	require.NoError(t, err)

	handlers := api.NewHandlers(letters.NewService(instrumented),
		api.WithStorage(instrumented),
		api.WithBuildInfo(version.Info{Version: "integration", InstanceID: "integration-1"}),
	)
	limitCfg, err := ratelimit.ConfigFrom(cfg.RateLimit)
	require.NoError(t, err)
	router := api.SetupRoutes(handlers, cfg,
		api.WithGeoRouter(geoRouter),
		api.WithLetterRateLimit(ratelimit.Middleware(limiter, "letters", limitCfg, cfg.RateLimit.PlatformHeader)),
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testStack{
		cfg:       cfg,
		store:     store,
		geoRouter: geoRouter,
		server:    server,
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (s *testStack) get(t *testing.T, path string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testStack) submit(t *testing.T, country, ip string) *http.Response {
	t.Helper()
	body, err := json.Marshal(models.SubmitLetterRequest{
		RepresentativeID: "rep-1",
		SenderName:       "Alex Example",
		SenderEmail:      "alex@example.org",
		Subject:          "Housing",
		Body:             "Please support the housing bill.",
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/"+country+"/letters", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", ip)

	resp, err := s.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIntegration_VisitorJourney(t *testing.T) {
	mr := miniredis.RunT(t)
	stack := newStack(t, writeConfig(t, t.TempDir(), mr.Addr(), 5), nil)

	// A British visitor lands on the root and is sent to the UK site
	resp := stack.get(t, "/?utm_source=mail", http.Header{"X-Vercel-Ip-Country": {"GB"}})
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/uk?utm_source=mail", resp.Header.Get("Location"))

	var detected *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "detected_country" {
			detected = c
		}
	}
	require.NotNil(t, detected)
	assert.Equal(t, "uk", detected.Value)
	assert.Equal(t, "/", detected.Path)
	assert.False(t, detected.HttpOnly)

	// Following the redirect serves the country site
	req, err := http.NewRequest(http.MethodGet, stack.server.URL+"/uk", nil)
	require.NoError(t, err)
	req.AddCookie(detected)
	siteResp, err := stack.client.Do(req)
	require.NoError(t, err)
	defer siteResp.Body.Close()
	require.Equal(t, http.StatusOK, siteResp.StatusCode)

	var site models.CountrySiteResponse
	require.NoError(t, json.NewDecoder(siteResp.Body).Decode(&site))
	assert.Equal(t, "uk", site.Country)
	assert.Equal(t, "uk", site.Detected)

	// The visitor writes a letter
	resp = stack.submit(t, "uk", "203.0.113.10")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "4", resp.Header.Get("X-RateLimit-Remaining"))

	var created models.SubmitLetterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, models.LetterStatusQueued, created.Status)

	// The letter is persisted in SQLite
	stored, err := stack.store.GetLetter(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "uk", stored.Country)
	assert.Equal(t, "203.0.113.10", stored.ClientIP)

	resp = stack.get(t, "/api/stats", nil)
	var stats models.StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.TotalLetters)
	assert.Equal(t, int64(1), stats.ByCountry["uk"])
	assert.Equal(t, int64(0), stats.ByCountry["de"])

	resp = stack.get(t, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_RateLimitSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	configPath := writeConfig(t, dir, mr.Addr(), 3)

	first := newStack(t, configPath, nil)
	second := newStack(t, configPath, first.store)

	assert.Equal(t, http.StatusCreated, first.submit(t, "de", "198.51.100.5").StatusCode)
	assert.Equal(t, http.StatusCreated, second.submit(t, "de", "198.51.100.5").StatusCode)
	assert.Equal(t, http.StatusCreated, first.submit(t, "fr", "198.51.100.5").StatusCode)

	resp := second.submit(t, "de", "198.51.100.5")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeRateLimited, errResp.Code)
	assert.Equal(t, "3", errResp.Details["limit"])

	assert.Equal(t, "3", mustGet(t, mr, "it:ratelimit:letters:198.51.100.5"))

	// A new window opens once the key expires
	mr.FastForward(61 * time.Second)
	assert.Equal(t, http.StatusCreated, first.submit(t, "de", "198.51.100.5").StatusCode)
}

func TestIntegration_RedisOutageFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	stack := newStack(t, writeConfig(t, t.TempDir(), mr.Addr(), 2), nil)

	assert.Equal(t, http.StatusCreated, stack.submit(t, "ca", "192.0.2.1").StatusCode)

	mr.Close()

	// The in-memory fallback starts a fresh window and still enforces the limit
	assert.Equal(t, http.StatusCreated, stack.submit(t, "ca", "192.0.2.1").StatusCode)
	assert.Equal(t, http.StatusCreated, stack.submit(t, "ca", "192.0.2.1").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, stack.submit(t, "ca", "192.0.2.1").StatusCode)
}

func TestIntegration_CountryTableHotReload(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	configPath := writeConfig(t, dir, mr.Addr(), 5)
	stack := newStack(t, configPath, nil)

	gb := http.Header{"X-Vercel-Ip-Country": {"GB"}}
	assert.Equal(t, "/uk", stack.get(t, "/", gb).Header.Get("Location"))

	watcher, err := config.NewWatcher(configPath, config.WatcherOptions{
		Debounce: 50 * time.Millisecond,
		OnChange: func(cfg *models.Config) error {
			table, err := geo.TableFromConfig(cfg.Geo)
			if err != nil {
				return err
			}
			stack.geoRouter.SetTable(table)
			return nil
		},
	})
	require.NoError(t, err)
	watcher.Start()
	defer watcher.Stop()

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	updated := bytes.Replace(data, []byte("geo:\n"), []byte("geo:\n  groups:\n    - country: fr\n      codes: [\"GB\", \"FR\"]\n"), 1)
	require.NoError(t, os.WriteFile(configPath, updated, 0644))

	require.Eventually(t, func() bool {
		return stack.geoRouter.Table().Lookup("GB") == geo.France
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "/fr", stack.get(t, "/", gb).Header.Get("Location"))
	// Codes not in the new table fall back to the default country
	assert.Equal(t, "/de", stack.get(t, "/", http.Header{"X-Vercel-Ip-Country": {"US"}}).Header.Get("Location"))
}

func TestIntegration_ConcurrentSubmissions(t *testing.T) {
	mr := miniredis.RunT(t)
	stack := newStack(t, writeConfig(t, t.TempDir(), mr.Addr(), 5), nil)

	const clients = 20
	var wg sync.WaitGroup
	codes := make(chan int, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := bytes.NewBufferString(`{"representative_id":"rep-9","sender_name":"N","sender_email":"n@example.org","subject":"S","body":"B"}`)
			req, err := http.NewRequest(http.MethodPost, stack.server.URL+"/api/us/letters", body)
			if err != nil {
				codes <- 0
				return
			}
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
			resp, err := stack.client.Do(req)
			if err != nil {
				codes <- 0
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}(i)
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Equal(t, http.StatusCreated, code)
	}

	counts, err := stack.store.CountLettersByCountry(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(clients), counts["us"])
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
