package llmgateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryableGatewayErrorRetriesTransientFailures(t *testing.T) {
	cases := []string{
		"connection reset by peer",
		"429 Too Many Requests",
		"rate limit exceeded",
		"503 Service Unavailable",
	}
	for _, msg := range cases {
		assert.True(t, isRetryableGatewayError(errors.New(msg)), msg)
	}
}

func TestIsRetryableGatewayErrorRejectsPermanentFailures(t *testing.T) {
	cases := []string{
		"invalid api key provided",
		"403 forbidden",
		"model not found",
		"context length exceeded for this model",
	}
	for _, msg := range cases {
		assert.False(t, isRetryableGatewayError(errors.New(msg)), msg)
	}
}

func TestIsRetryableGatewayErrorNilIsNotRetryable(t *testing.T) {
	assert.False(t, isRetryableGatewayError(nil))
}
