package xhub

import (
	"context"

	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xhub (prevents collisions).
type ctxKey string

const (
	loggerCtxKey   ctxKey = "xhub:logger"
	envelopeCtxKey ctxKey = "xhub:envelope"
)

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the connector logger visible to listeners.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeCtxKey, env)
}

// EnvelopeFromContext returns the inbound envelope that caused the current raise.
// Only present for raises triggered by remote delivery.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeCtxKey).(Envelope)
	return env, ok
}
