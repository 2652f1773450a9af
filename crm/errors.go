// ABOUTME: Provider error type shared by CRM adapters
// ABOUTME: Carries the response status so the engine can classify retries
package crm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
)

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("crm request failed: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("crm request failed: status=%d message=%s", e.StatusCode, e.Message)
}

// HTTPStatus returns the provider response status.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		apiErr.Code = parsed.Code
		if msg := strings.TrimSpace(parsed.Message); msg != "" {
			apiErr.Message = msg
		}
	}
	return apiErr
}

// fromGoogleError converts a googleapi.Error into an APIError, leaving other
// errors untouched.
func fromGoogleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{StatusCode: gerr.Code, Message: gerr.Message}
	}
	return err
}
