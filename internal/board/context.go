package board

import "context"

type contextKey int

const correlationKey contextKey = iota

// WithCorrelationID attaches a client-generated correlation id to ctx. The
// id is echoed in the event emitted by the mutation run under ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the id set by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}
