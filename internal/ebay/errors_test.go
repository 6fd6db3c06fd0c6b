package ebay

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnclassified},
		{name: "transport error", err: errors.New("connection refused"), want: KindUnclassified},
		{name: "known id wins over status", err: &APIError{Status: http.StatusInternalServerError, Errors: []ErrorDetail{{ErrorID: 25709}}}, want: KindValidation},
		{name: "auth id", err: &APIError{Status: http.StatusBadRequest, Errors: []ErrorDetail{{ErrorID: 1001}}}, want: KindAuth},
		{name: "offer not available", err: &APIError{Status: http.StatusNotFound, Errors: []ErrorDetail{{ErrorID: 25713}}}, want: KindNotFound},
		{name: "system error", err: &APIError{Status: http.StatusInternalServerError, Errors: []ErrorDetail{{ErrorID: 25001}}}, want: KindUnavailable},
		{name: "unknown id falls back to 400", err: &APIError{Status: http.StatusBadRequest, Errors: []ErrorDetail{{ErrorID: 99999}}}, want: KindValidation},
		{name: "401 without body", err: &APIError{Status: http.StatusUnauthorized}, want: KindAuth},
		{name: "429", err: &APIError{Status: http.StatusTooManyRequests}, want: KindRateLimited},
		{name: "503", err: &APIError{Status: http.StatusServiceUnavailable}, want: KindUnavailable},
		{name: "unexpected status", err: &APIError{Status: http.StatusTeapot}, want: KindUnclassified},
		{name: "wrapped", err: fmt.Errorf("step failed: %w", &APIError{Status: http.StatusNotFound}), want: KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNewAPIError(t *testing.T) {
	structured := newAPIError(http.StatusBadRequest, []byte(`{"errors":[{"errorId":25002,"message":"A user error has occurred."}]}`))
	assert.Equal(t, 25002, structured.ErrorID())
	assert.Equal(t, "A user error has occurred.", structured.Message())
	assert.Contains(t, structured.Error(), "errorId 25002")

	plain := newAPIError(http.StatusBadGateway, []byte("  upstream timeout \n"))
	assert.Equal(t, 0, plain.ErrorID())
	assert.Equal(t, "upstream timeout", plain.Message())

	empty := newAPIError(http.StatusServiceUnavailable, nil)
	assert.Equal(t, "Service Unavailable", empty.Message())
}
