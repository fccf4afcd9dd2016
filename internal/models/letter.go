// Package models - Letter types and input validation.
// This file defines the letter a visitor sends to an elected representative
// and the request that creates it.
//
// Validation Philosophy:
// - Fail fast with clear error messages for invalid input
// - Normalize input (trimmed strings, lowercase email and country) before storage
// - Separate validation from normalization for clear error reporting
package models

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Letter status values.
const (
	LetterStatusQueued = "queued"
	LetterStatusSent   = "sent"
	LetterStatusFailed = "failed"
)

// Field limits for letter submissions.
const (
	MaxSenderNameLength = 200
	MaxSubjectLength    = 200
	MaxBodyLength       = 10000
	MaxPostcodeLength   = 16
)

// Letter is a message addressed to one representative within a country site.
// The sender's email and client IP are stored but never serialized.
type Letter struct {
	ID               string    `json:"id"`
	Country          string    `json:"country"`
	RepresentativeID string    `json:"representative_id"`
	SenderName       string    `json:"sender_name"`
	SenderEmail      string    `json:"-"`
	Postcode         string    `json:"postcode,omitempty"`
	Subject          string    `json:"subject"`
	Body             string    `json:"body"`
	Status           string    `json:"status"`
	ClientIP         string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// SubmitLetterRequest is the public payload for POST /api/{country}/letters.
// Country comes from the path, not the body.
type SubmitLetterRequest struct {
	RepresentativeID string `json:"representative_id"`
	SenderName       string `json:"sender_name"`
	SenderEmail      string `json:"sender_email"`
	Postcode         string `json:"postcode,omitempty"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
}

func (r *SubmitLetterRequest) Validate() error {
	if strings.TrimSpace(r.RepresentativeID) == "" {
		return errors.New("representative_id is required")
	}

	name := strings.TrimSpace(r.SenderName)
	if name == "" {
		return errors.New("sender_name is required")
	}
	if len(name) > MaxSenderNameLength {
		return fmt.Errorf("sender_name must be at most %d characters", MaxSenderNameLength)
	}

	email := strings.TrimSpace(r.SenderEmail)
	if email == "" {
		return errors.New("sender_email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid sender_email: %w", err)
	}

	if len(strings.TrimSpace(r.Postcode)) > MaxPostcodeLength {
		return fmt.Errorf("postcode must be at most %d characters", MaxPostcodeLength)
	}

	subject := strings.TrimSpace(r.Subject)
	if subject == "" {
		return errors.New("subject is required")
	}
	if len(subject) > MaxSubjectLength {
		return fmt.Errorf("subject must be at most %d characters", MaxSubjectLength)
	}

	body := strings.TrimSpace(r.Body)
	if body == "" {
		return errors.New("body is required")
	}
	if len(body) > MaxBodyLength {
		return fmt.Errorf("body must be at most %d characters", MaxBodyLength)
	}

	return nil
}

func (r *SubmitLetterRequest) Normalize() {
	r.RepresentativeID = strings.TrimSpace(r.RepresentativeID)
	r.SenderName = strings.TrimSpace(r.SenderName)
	r.SenderEmail = strings.ToLower(strings.TrimSpace(r.SenderEmail))
	r.Postcode = strings.ToUpper(strings.TrimSpace(r.Postcode))
	r.Subject = strings.TrimSpace(r.Subject)
	r.Body = strings.TrimSpace(r.Body)
}

// NewLetter builds a queued letter from a normalized request.
func NewLetter(id, country string, req *SubmitLetterRequest, createdAt time.Time) *Letter {
	return &Letter{
		ID:               id,
		Country:          strings.ToLower(country),
		RepresentativeID: req.RepresentativeID,
		SenderName:       req.SenderName,
		SenderEmail:      req.SenderEmail,
		Postcode:         req.Postcode,
		Subject:          req.Subject,
		Body:             req.Body,
		Status:           LetterStatusQueued,
		CreatedAt:        createdAt,
	}
}
