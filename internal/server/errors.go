// Package server provides the HTTP REST API for the research agent.
package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jonathan/company-researcher/internal/jobs"
)

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrTerminalJob), errors.Is(err, jobs.ErrInvalidTransition):
		return http.StatusConflict
	case isValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// isValidationError recognizes input validation failures from Submit.
func isValidationError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "invalid job input")
}
