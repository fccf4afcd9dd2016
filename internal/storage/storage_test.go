package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"lettertool/internal/models"

	"github.com/google/uuid"
)

func newTestLetter(country string) *models.Letter {
	return &models.Letter{
		ID:               uuid.New().String(),
		Country:          country,
		RepresentativeID: "mdb-1234",
		SenderName:       "Erika Mustermann",
		SenderEmail:      "erika@example.org",
		Postcode:         "10115",
		Subject:          "Clean air now",
		Body:             "Please support the clean air bill.",
		Status:           models.LetterStatusQueued,
		ClientIP:         "203.0.113.7",
		CreatedAt:        time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC),
	}
}

// runStorageSuite exercises the behaviour every backend must share. Counts are
// compared relative to a baseline so the suite can run against a shared
// database.
func runStorageSuite(t *testing.T, s Storage) {
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		letter := newTestLetter("de")
		if err := s.SaveLetter(ctx, letter); err != nil {
			t.Fatalf("SaveLetter failed: %v", err)
		}

		got, err := s.GetLetter(ctx, letter.ID)
		if err != nil {
			t.Fatalf("GetLetter failed: %v", err)
		}

		if got.ID != letter.ID || got.Country != "de" || got.RepresentativeID != "mdb-1234" {
			t.Errorf("unexpected letter: %+v", got)
		}
		if got.SenderEmail != letter.SenderEmail || got.Body != letter.Body || got.Subject != letter.Subject {
			t.Errorf("content mismatch: %+v", got)
		}
		if got.Postcode != "10115" || got.ClientIP != "203.0.113.7" {
			t.Errorf("optional fields mismatch: %+v", got)
		}
		if !got.CreatedAt.Equal(letter.CreatedAt.Truncate(time.Microsecond)) && !got.CreatedAt.Equal(letter.CreatedAt) {
			t.Errorf("expected created_at %v, got %v", letter.CreatedAt, got.CreatedAt)
		}
	})

	t.Run("EmptyOptionalFields", func(t *testing.T) {
		letter := newTestLetter("ca")
		letter.Postcode = ""
		letter.ClientIP = ""
		if err := s.SaveLetter(ctx, letter); err != nil {
			t.Fatalf("SaveLetter failed: %v", err)
		}

		got, err := s.GetLetter(ctx, letter.ID)
		if err != nil {
			t.Fatalf("GetLetter failed: %v", err)
		}
		if got.Postcode != "" || got.ClientIP != "" {
			t.Errorf("expected empty optional fields, got %+v", got)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		letter := newTestLetter("uk")
		if err := s.SaveLetter(ctx, letter); err != nil {
			t.Fatalf("SaveLetter failed: %v", err)
		}

		err := s.SaveLetter(ctx, letter)
		if !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("MissingID", func(t *testing.T) {
		letter := newTestLetter("de")
		letter.ID = ""
		if err := s.SaveLetter(ctx, letter); err == nil {
			t.Error("expected error for missing ID")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.GetLetter(ctx, uuid.New().String())
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CountByCountry", func(t *testing.T) {
		before, err := s.CountLettersByCountry(ctx)
		if err != nil {
			t.Fatalf("CountLettersByCountry failed: %v", err)
		}

		for _, country := range []string{"fr", "fr", "us"} {
			if err := s.SaveLetter(ctx, newTestLetter(country)); err != nil {
				t.Fatalf("SaveLetter failed: %v", err)
			}
		}

		after, err := s.CountLettersByCountry(ctx)
		if err != nil {
			t.Fatalf("CountLettersByCountry failed: %v", err)
		}

		if got := after["fr"] - before["fr"]; got != 2 {
			t.Errorf("expected 2 new fr letters, got %d", got)
		}
		if got := after["us"] - before["us"]; got != 1 {
			t.Errorf("expected 1 new us letter, got %d", got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}
