package xhub

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCloseCodeFor(t *testing.T) {
	long := strings.Repeat("PaymentService", 10)
	cases := []struct {
		name   string
		err    error
		code   int
		reason string
	}{
		{"nil", nil, CloseNormal, ""},
		{"not registered", &HandshakeError{Service: long, ID: uuid.NewString(), Err: ErrNotRegistered}, CloseNotRegistered, ErrNotRegistered.Error()},
		{"missing handshake", &HandshakeError{ID: long, Err: ErrMissingHandshake}, CloseMissingHandshake, ErrMissingHandshake.Error()},
		{"already connected", &HandshakeError{Service: long, Err: ErrAlreadyConnected}, CloseAlreadyConnected, AlreadyConnectedReason},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, reason := CloseCodeFor(tc.err)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.reason, reason)
			assert.LessOrEqual(t, len(reason), MaxCloseReason)
		})
	}
}

func TestCloseCodeFor_InternalErrorIsClipped(t *testing.T) {
	code, reason := CloseCodeFor(errors.New(strings.Repeat("x", 300)))
	assert.Equal(t, CloseInternalError, code)
	assert.Len(t, reason, MaxCloseReason)
}

func TestClipCloseReason(t *testing.T) {
	assert.Equal(t, "short", ClipCloseReason("short"))

	// 122 ASCII bytes then a 3-byte rune straddling the limit
	in := strings.Repeat("a", 122) + "€" + "tail"
	out := ClipCloseReason(in)
	assert.Equal(t, strings.Repeat("a", 122), out)
	assert.True(t, utf8.ValidString(out))
}
