package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"lettertool/internal/geo"
	"lettertool/internal/letters"
	"lettertool/internal/logger"
	"lettertool/internal/models"
	"lettertool/internal/ratelimit"
	"lettertool/internal/storage"
	"lettertool/internal/version"

	"github.com/gorilla/mux"
)

// maxLetterBodyBytes bounds the JSON payload of a letter submission.
const maxLetterBodyBytes = 64 << 10

// Handlers contains HTTP handlers for the letter tool API
type Handlers struct {
	letterService  letters.ServiceInterface
	storage        storage.Storage
	build          version.Info
	platformHeader string
	detectedCookie string
	log            *slog.Logger
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithStorage enables the storage ping in health checks.
func WithStorage(s storage.Storage) HandlerOption {
	return func(h *Handlers) { h.storage = s }
}

// WithBuildInfo sets the build and instance reported by health checks.
func WithBuildInfo(info version.Info) HandlerOption {
	return func(h *Handlers) { h.build = info }
}

// WithPlatformHeader sets the hosting platform's forwarded-for header used
// when recording the submitting client's address.
func WithPlatformHeader(header string) HandlerOption {
	return func(h *Handlers) { h.platformHeader = header }
}

// WithDetectedCookie sets the name of the cookie the geo router writes.
func WithDetectedCookie(name string) HandlerOption {
	return func(h *Handlers) { h.detectedCookie = name }
}

// NewHandlers creates a new handlers instance
func NewHandlers(letterService letters.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		letterService:  letterService,
		platformHeader: ratelimit.DefaultPlatformHeader,
		detectedCookie: "detected_country",
		log:            logger.Component("api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubmitLetter handles letter submissions
// POST /api/{country}/letters
func (h *Handlers) SubmitLetter(w http.ResponseWriter, r *http.Request) {
	country := mux.Vars(r)["country"]

	r.Body = http.MaxBytesReader(w, r.Body, maxLetterBodyBytes)

	var req models.SubmitLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	ctx := letters.ContextWithClientIP(r.Context(), ratelimit.ClientIP(r, h.platformHeader))

	response, err := h.letterService.Submit(ctx, country, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/letters/"+response.ID)
	h.writeJSONResponse(w, http.StatusCreated, response)
}

// GetLetter handles letter lookups
// GET /api/letters/{id}
func (h *Handlers) GetLetter(w http.ResponseWriter, r *http.Request) {
	letter, err := h.letterService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, letter)
}

// Stats handles letter count requests
// GET /api/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.letterService.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, stats)
}

// CountrySite describes the country subtree a request landed on
// GET /{country} and /{country}/...
func (h *Handlers) CountrySite(w http.ResponseWriter, r *http.Request) {
	country, ok := geo.ParseCountry(mux.Vars(r)["country"])
	if !ok {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeUnknownCountry, "Country site not found")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, countrySite(country, h.detected(r)))
}

// Sites lists every country subtree. Reached only when geo routing is off,
// since the router redirects "/" otherwise.
// GET /
func (h *Handlers) Sites(w http.ResponseWriter, r *http.Request) {
	sites := make([]models.CountrySiteResponse, 0, len(geo.Countries))
	for _, c := range geo.Countries {
		sites = append(sites, countrySite(c, ""))
	}

	h.writeJSONResponse(w, http.StatusOK, sites)
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.build.Version
	if h.build.InstanceID != "" {
		response.Build = &models.BuildInfo{
			Commit:        h.build.GitCommit,
			BuildDate:     h.build.BuildDate,
			InstanceID:    h.build.InstanceID,
			UptimeSeconds: int64(h.build.Uptime(time.Now()).Seconds()),
		}
	}

	status := http.StatusOK
	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.storage.Ping(ctx); err != nil {
			h.log.WarnContext(r.Context(), "Storage health check failed", "error", err)
			response.Status = models.StatusUnhealthy
			response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
			status = http.StatusServiceUnavailable
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	h.writeJSONResponse(w, status, response)
}

func (h *Handlers) detected(r *http.Request) string {
	cookie, err := r.Cookie(h.detectedCookie)
	if err != nil {
		return ""
	}
	if c, ok := geo.ParseCountry(cookie.Value); ok {
		return string(c)
	}
	return ""
}

func countrySite(c geo.Country, detected string) models.CountrySiteResponse {
	return models.CountrySiteResponse{
		Country:  string(c),
		Name:     c.Name(),
		Language: c.Language(),
		Path:     c.Prefix(),
		Detected: detected,
	}
}

// writeServiceError maps a letters.ServiceError onto its HTTP status. Any
// other error is reported as an internal error without its detail.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *letters.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.StatusCode >= http.StatusInternalServerError {
			h.log.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
			h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, "Internal server error")
			return
		}
		h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	h.log.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing left to send
		slog.Error("Error encoding JSON response", "error", err)
	}
}
