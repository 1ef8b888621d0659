package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is the cause recorded when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while waiting.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrQuotaExceeded is the cause recorded for QuotaExceeded outcomes.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx errors other than auth and quota.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassAuth represents a rejected credential (401).
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassQuota represents a quota or rate limit signal.
	ErrorClassQuota ErrorClass = "quota"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents a failed API request with additional context.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("API %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		// Client errors fail the partition, quota stops the run, auth is handled separately.
		return false
	}
}

// Problem is the problem-details body returned by the API on errors.
type Problem struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// String returns the most specific human-readable part of the problem.
func (p *Problem) String() string {
	switch {
	case p.Detail != "" && p.Title != "":
		return p.Title + ": " + p.Detail
	case p.Detail != "":
		return p.Detail
	default:
		return p.Title
	}
}

func parseProblem(body []byte) *Problem {
	var p Problem
	if len(body) == 0 || json.Unmarshal(body, &p) != nil {
		return nil
	}
	return &p
}

// isQuotaSignal reports whether a 4xx problem body names a rate or quota limit.
func isQuotaSignal(p *Problem) bool {
	if p == nil {
		return false
	}
	if p.Status == 429 || strings.Contains(p.Type, "ERR-429") {
		return true
	}
	text := strings.ToLower(p.Title + " " + p.Detail)
	return strings.Contains(text, "rate limit") || strings.Contains(text, "quota")
}

// classifyStatus categorizes a non-2xx HTTP status for handling.
func classifyStatus(status int, problem *Problem) ErrorClass {
	switch {
	case status == 401:
		return ErrorClassAuth
	case status == 429:
		return ErrorClassQuota
	case status >= 400 && status < 500:
		if isQuotaSignal(problem) {
			return ErrorClassQuota
		}
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
