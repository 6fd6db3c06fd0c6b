package ebay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the classification of a marketplace failure
type Kind string

// Error kinds
const (
	KindValidation   Kind = "validation"
	KindAuth         Kind = "auth"
	KindNotFound     Kind = "not_found"
	KindRateLimited  Kind = "rate_limited"
	KindUnavailable  Kind = "unavailable"
	KindUnclassified Kind = "unclassified"
)

// knownErrorIDs maps marketplace error ids onto kinds. Ids not listed fall
// back to the HTTP status.
var knownErrorIDs = map[int]Kind{
	1001:  KindAuth,        // invalid access token
	1100:  KindAuth,        // insufficient permissions
	2004:  KindValidation,  // invalid request
	25001: KindUnavailable, // internal system error
	25002: KindValidation,  // user error (generic listing validation)
	25005: KindValidation,  // invalid category
	25021: KindValidation,  // invalid item condition
	25604: KindNotFound,    // product not found
	25702: KindNotFound,    // sku not found
	25707: KindValidation,  // invalid sku
	25709: KindValidation,  // invalid value for field
	25713: KindNotFound,    // offer not available
}

// ErrorDetail is one entry of a marketplace errors[] array
type ErrorDetail struct {
	ErrorID     int              `json:"errorId"`
	Domain      string           `json:"domain,omitempty"`
	Category    string           `json:"category,omitempty"`
	Message     string           `json:"message,omitempty"`
	LongMessage string           `json:"longMessage,omitempty"`
	Parameters  []ErrorParameter `json:"parameters,omitempty"`
}

// ErrorParameter names the field an error refers to
type ErrorParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// APIError is a non-2xx marketplace response
type APIError struct {
	Status int
	Errors []ErrorDetail
	Body   string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		d := e.Errors[0]
		return fmt.Sprintf("API error %d (errorId %d): %s", e.Status, d.ErrorID, d.Message)
	}
	if e.Body != "" {
		return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("API error %d", e.Status)
}

// ErrorID returns the first marketplace error id, or 0
func (e *APIError) ErrorID() int {
	if len(e.Errors) == 0 {
		return 0
	}
	return e.Errors[0].ErrorID
}

// Message returns the most specific human-readable message available
func (e *APIError) Message() string {
	if len(e.Errors) > 0 {
		d := e.Errors[0]
		if d.LongMessage != "" {
			return d.LongMessage
		}
		if d.Message != "" {
			return d.Message
		}
	}
	if e.Body != "" {
		return e.Body
	}
	return http.StatusText(e.Status)
}

// newAPIError decodes the standard error envelope; bodies that are not JSON
// are kept verbatim
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var envelope struct {
		Errors []ErrorDetail `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		apiErr.Errors = envelope.Errors
		return apiErr
	}

	apiErr.Body = strings.TrimSpace(string(body))
	return apiErr
}

// Classify maps an error onto a Kind. Errors that are not marketplace
// responses are unclassified.
func Classify(err error) Kind {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return KindUnclassified
	}

	for _, d := range apiErr.Errors {
		if kind, ok := knownErrorIDs[d.ErrorID]; ok {
			return kind
		}
	}

	switch {
	case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
		return KindAuth
	case apiErr.Status == http.StatusNotFound:
		return KindNotFound
	case apiErr.Status == http.StatusTooManyRequests:
		return KindRateLimited
	case apiErr.Status >= 500:
		return KindUnavailable
	case apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusConflict:
		return KindValidation
	}
	return KindUnclassified
}

// IsNotFound reports whether err is a marketplace 404 or a not-found error id
func IsNotFound(err error) bool {
	return Classify(err) == KindNotFound
}
