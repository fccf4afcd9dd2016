// Package letters implements letter submission for the country sites.
package letters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lettertool/internal/logger"
	"lettertool/internal/models"
	"lettertool/internal/storage"

	"github.com/google/uuid"
)

type clientIPKey struct{}

// ContextWithClientIP attaches the submitting client's address to ctx.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address set by ContextWithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// Service handles letter submission and lookup business logic
type Service struct {
	storage storage.Storage
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides letter ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a new letter service with the given storage backend
func NewService(storage storage.Storage, opts ...Option) *Service {
	s := &Service{
		storage: storage,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     logger.Component("letters"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req and stores it as a queued letter for country
func (s *Service) Submit(ctx context.Context, country string, req *models.SubmitLetterRequest) (*models.SubmitLetterResponse, error) {
	country = strings.ToLower(strings.TrimSpace(country))
	if !models.IsSupportedCountry(country) {
		return nil, NewUnknownCountryError(country)
	}
	if req == nil {
		return nil, NewInvalidRequestError("request body is required", nil)
	}

	// Validate and normalize request
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}
	req.Normalize()

	letter := models.NewLetter(s.newID(), country, req, s.now().UTC())
	letter.ClientIP = ClientIPFromContext(ctx)

	if err := s.storage.SaveLetter(ctx, letter); err != nil {
		return nil, NewInternalError("failed to save letter", err)
	}

	s.log.InfoContext(ctx, "Letter queued",
		"letter_id", letter.ID,
		"country", letter.Country,
		"representative_id", letter.RepresentativeID,
	)

	return &models.SubmitLetterResponse{
		ID:        letter.ID,
		Country:   letter.Country,
		Status:    letter.Status,
		Message:   fmt.Sprintf("Letter to %s queued for delivery", letter.RepresentativeID),
		CreatedAt: letter.CreatedAt,
	}, nil
}

// Get returns a stored letter by ID
func (s *Service) Get(ctx context.Context, id string) (*models.Letter, error) {
	if id == "" {
		return nil, NewInvalidRequestError("letter id is required", nil)
	}

	letter, err := s.storage.GetLetter(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewLetterNotFoundError(id)
		}
		return nil, NewInternalError("failed to get letter", err)
	}

	return letter, nil
}

// Stats returns letter counts for every country site, including sites with
// no letters yet
func (s *Service) Stats(ctx context.Context) (*models.StatsResponse, error) {
	counts, err := s.storage.CountLettersByCountry(ctx)
	if err != nil {
		return nil, NewInternalError("failed to count letters", err)
	}

	resp := &models.StatsResponse{
		ByCountry:   make(map[string]int64, len(models.SupportedCountries)),
		GeneratedAt: s.now().UTC(),
	}
	for _, country := range models.SupportedCountries {
		resp.ByCountry[country] = 0
	}
	for country, n := range counts {
		resp.ByCountry[country] = n
		resp.TotalLetters += n
	}

	return resp, nil
}
