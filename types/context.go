package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID      contextKey = "trace_id"
	keySkillID      contextKey = "skill_id"
	keyInvocationID contextKey = "invocation_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithSkillID adds the skill being invoked to context.
func WithSkillID(ctx context.Context, skillID string) context.Context {
	return context.WithValue(ctx, keySkillID, skillID)
}

// SkillID extracts the skill being invoked from context.
func SkillID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySkillID).(string)
	return v, ok && v != ""
}

// WithInvocationID adds invocation ID to context.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyInvocationID, id)
}

// InvocationID extracts invocation ID from context.
func InvocationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyInvocationID).(string)
	return v, ok && v != ""
}
