package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/identity"
)

// statusForError maps an error kind to its HTTP status.
func statusForError(err error) int {
	if errors.Is(err, identity.ErrServiceUnavailable) {
		return http.StatusServiceUnavailable
	}
	switch domain.ErrorKind(err) {
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindInsufficientData:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError writes err with its mapped status. Internal failures
// are not echoed to the caller.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		msg = "identity service unavailable"
	case http.StatusInternalServerError:
		msg = "internal server error"
	}
	writeError(w, status, msg)
}

// formatValidationError turns validator failures into one message.
func formatValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	parts := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "gte":
			msg = fmt.Sprintf("must be at least %s", fe.Param())
		case "lte":
			msg = fmt.Sprintf("must be at most %s", fe.Param())
		case "max":
			msg = fmt.Sprintf("must be at most %s long", fe.Param())
		case "oneof":
			msg = fmt.Sprintf("must be one of [%s]", fe.Param())
		default:
			msg = fmt.Sprintf("failed %s validation", fe.Tag())
		}
		parts = append(parts, fe.Namespace()+" "+msg)
	}
	return strings.Join(parts, "; ")
}
