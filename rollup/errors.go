// ABOUTME: Error taxonomy for rollup runs
// ABOUTME: Per-source and per-item errors are recorded into results, never raised to callers
package rollup

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigError means the job has no usable target account.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "rollup config: " + e.Reason
}

// UnsupportedProviderError means the target account's provider cannot write contacts.
type UnsupportedProviderError struct {
	AccountKey string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("account %s: provider does not support contact writes", e.AccountKey)
}

// CredentialError means credentials or the contacts capability for an account
// could not be resolved.
type CredentialError struct {
	AccountKey string
	Err        error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("account %s: failed to resolve credentials: %v", e.AccountKey, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// FetchError means paging through an account's contacts failed.
type FetchError struct {
	AccountKey string
	Cursor     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Cursor == "" {
		return fmt.Sprintf("account %s: failed to fetch contacts: %v", e.AccountKey, e.Err)
	}
	return fmt.Sprintf("account %s: failed to fetch contacts after cursor %s: %v", e.AccountKey, e.Cursor, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// WriteError means an upsert or delete failed for one item after retries.
type WriteError struct {
	Op  string
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// httpStatus extracts a provider status from err, or 0 if there is none.
func httpStatus(err error) int {
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus()
	}
	return 0
}

// IsRetryable reports whether err is a rate-limit or server error response.
func IsRetryable(err error) bool {
	status := httpStatus(err)
	return status == http.StatusTooManyRequests || status >= 500
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return httpStatus(err) == http.StatusNotFound
}

// IsRejected reports whether err is a non-retryable client error response,
// meaning the provider understood the request and refused it.
func IsRejected(err error) bool {
	status := httpStatus(err)
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}
