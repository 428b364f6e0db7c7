package sender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Backoff(c.retryCount, 1.0, 60.0))
	}
}

func TestBackoffCapped(t *testing.T) {
	assert.Equal(t, 60*time.Second, Backoff(10, 1.0, 60.0))
}

func TestClassify2xxDone(t *testing.T) {
	assert.Equal(t, outcomeDone, classify(200, "", nil))
	assert.Equal(t, outcomeDone, classify(204, "", nil))
}

func TestClassifyRetryableStatuses(t *testing.T) {
	assert.Equal(t, outcomeRetry, classify(408, "HTTP 408", nil))
	assert.Equal(t, outcomeRetry, classify(429, "HTTP 429", nil))
	assert.Equal(t, outcomeRetry, classify(500, "HTTP 500", nil))
	assert.Equal(t, outcomeRetry, classify(503, "HTTP 503", nil))
}

func TestClassifyTransportErrorRetries(t *testing.T) {
	assert.Equal(t, outcomeRetry, classify(0, "connection refused", nil))
}

func TestClassifyOther4xxPermanent(t *testing.T) {
	assert.Equal(t, outcomePermanent, classify(404, "HTTP 404", nil))
	assert.Equal(t, outcomePermanent, classify(400, "HTTP 400", nil))
}

func TestClassifyOperatorOverrideRetryable4xx(t *testing.T) {
	override := map[int]bool{404: true}
	assert.Equal(t, outcomeRetry, classify(404, "HTTP 404", override))
	assert.Equal(t, outcomePermanent, classify(400, "HTTP 400", override))
}

func TestIsAbsoluteHTTPURL(t *testing.T) {
	assert.True(t, isAbsoluteHTTPURL("https://example.com/api/inbox"))
	assert.True(t, isAbsoluteHTTPURL("http://example.com/api/inbox"))
	assert.False(t, isAbsoluteHTTPURL("not a url"))
	assert.False(t, isAbsoluteHTTPURL("/relative/path"))
	assert.False(t, isAbsoluteHTTPURL("ftp://example.com"))
}
