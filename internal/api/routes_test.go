package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lettertool/internal/geo"
	"lettertool/internal/letters"
	"lettertool/internal/models"
	"lettertool/internal/ratelimit"
	"lettertool/internal/storage"
	"lettertool/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer wires the real service, storage, limiter and geo router.
func newTestServer(t *testing.T, maxRequests int) http.Handler {
	t.Helper()

	cfg := models.NewDefaultConfig()

	store, err := storage.NewMemoryStorage(storage.Config{Type: models.StorageTypeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })

	geoRouter, err := geo.NewRouter(cfg.Geo)
	require.NoError(t, err)

	handlers := NewHandlers(letters.NewService(store), WithStorage(store), WithBuildInfo(version.Info{Version: "test"}))
	limitCfg := ratelimit.Config{MaxRequests: maxRequests, WindowSeconds: 60}

	return SetupRoutes(handlers, cfg,
		WithGeoRouter(geoRouter),
		WithLetterRateLimit(ratelimit.Middleware(limiter, "letters", limitCfg, cfg.RateLimit.PlatformHeader)),
	)
}

func do(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRoutes_GeoRedirects(t *testing.T) {
	server := newTestServer(t, 10)

	tests := []struct {
		name     string
		path     string
		country  string
		override string
		wantLoc  string
	}{
		{"root falls back to germany", "/", "", "", "/de"},
		{"british visitor", "/about?ref=mail", "GB", "", "/uk/about?ref=mail"},
		{"canadian visitor", "/", "CA", "", "/ca"},
		{"unmapped code", "/take-action", "JP", "", "/de/take-action"},
		{"override wins over header", "/", "US", "fr", "/fr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.country != "" {
				req.Header.Set("X-Vercel-IP-Country", tt.country)
			}
			if tt.override != "" {
				req.AddCookie(&http.Cookie{Name: "country", Value: tt.override})
			}

			rr := do(server, req)
			assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
			assert.Equal(t, tt.wantLoc, rr.Header().Get("Location"))
			assert.Contains(t, rr.Header().Get("Set-Cookie"), "detected_country=")
		})
	}
}

func TestRoutes_CountrySiteIsServed(t *testing.T) {
	server := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/uk/take-action", nil)
	req.Header.Set("X-Vercel-IP-Country", "DE")
	rr := do(server, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var site models.CountrySiteResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&site))
	assert.Equal(t, "uk", site.Country)
}

func TestRoutes_ExcludedPathsAreNotRedirected(t *testing.T) {
	server := newTestServer(t, 10)

	for _, path := range []string{"/api/stats", "/health", "/api/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Vercel-IP-Country", "US")
		rr := do(server, req)
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Empty(t, rr.Header().Get("Location"), path)
	}

	rr := do(server, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoutes_SubmitAndFetchLetter(t *testing.T) {
	server := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodPost, "/api/de/letters", strings.NewReader(letterJSON))
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rr := do(server, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rr.Header().Get("X-RateLimit-Remaining"))

	var created models.SubmitLetterResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))

	rr = do(server, httptest.NewRequest(http.MethodGet, rr.Header().Get("Location"), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "jane@example.org")
	var letter models.Letter
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&letter))
	assert.Equal(t, created.ID, letter.ID)
	assert.Equal(t, "de", letter.Country)

	rr = do(server, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	var stats models.StatsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.TotalLetters)
	assert.Equal(t, int64(1), stats.ByCountry["de"])
}

func TestRoutes_LetterSubmissionIsRateLimited(t *testing.T) {
	server := newTestServer(t, 2)

	submit := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/uk/letters", strings.NewReader(letterJSON))
		req.Header.Set("X-Forwarded-For", ip)
		return do(server, req)
	}

	assert.Equal(t, http.StatusCreated, submit("198.51.100.1").Code)
	assert.Equal(t, http.StatusCreated, submit("198.51.100.1").Code)

	rr := submit("198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, models.ErrorCodeRateLimited, resp.Code)

	// Another client has its own quota
	assert.Equal(t, http.StatusCreated, submit("198.51.100.2").Code)

	// Reads are not limited
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(server, httptest.NewRequest(http.MethodGet, "/api/stats", nil)).Code)
	}
}

func TestRoutes_ErrorsAreJSON(t *testing.T) {
	server := newTestServer(t, 10)

	rr := do(server, httptest.NewRequest(http.MethodGet, "/api/nothing/here", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rr = do(server, httptest.NewRequest(http.MethodGet, "/api/de/letters", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(server, httptest.NewRequest(http.MethodPost, "/api/es/letters", strings.NewReader(letterJSON)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, models.ErrorCodeUnknownCountry, resp.Code)
}

func TestRoutes_Preflight(t *testing.T) {
	server := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodOptions, "/api/de/letters", nil)
	req.Header.Set("Origin", "https://letters.example.org")
	rr := do(server, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://letters.example.org", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutes_WithoutGeoRouter(t *testing.T) {
	cfg := models.NewDefaultConfig()
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	server := SetupRoutes(NewHandlers(letters.NewService(store)), cfg)

	rr := do(server, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var sites []models.CountrySiteResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&sites))
	assert.Len(t, sites, len(geo.Countries))
}
