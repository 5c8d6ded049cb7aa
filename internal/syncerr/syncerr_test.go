package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindAuth:            false,
		KindRateLimited:     true,
		KindUnavailable:     true,
		KindTransport:       true,
		KindChannelRejected: false,
		KindParse:           false,
		KindFault:           false,
	}
	for kind, want := range cases {
		err := New(kind, "fetch_reservations", errors.New("boom"))
		assert.Equal(t, want, Retryable(err), "kind %s", kind)
	}
	assert.False(t, Retryable(errors.New("plain")))
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := &Error{Kind: KindAuth, Op: "push_rates", Channel: "ota-1", Status: 401}
	wrapped := fmt.Errorf("step failed: %w", base)

	assert.True(t, Is(wrapped, KindAuth))
	assert.Equal(t, "auth", KindLabel(wrapped))
	assert.Equal(t, "internal", KindLabel(errors.New("x")))
	assert.Contains(t, base.Error(), "status 401")
	assert.Contains(t, base.Error(), "channel ota-1")
}
