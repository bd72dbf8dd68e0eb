package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashArgs_Deterministic(t *testing.T) {
	t.Parallel()

	a := HashArgs(map[string]any{"query": "go", "limit": 10, "nested": map[string]any{"x": 1, "y": 2}})
	b := HashArgs(map[string]any{"nested": map[string]any{"y": 2, "x": 1}, "limit": 10, "query": "go"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := HashArgs(map[string]any{"query": "rust", "limit": 10})
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "go")
}

func TestHashArgs_Empty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", HashArgs(nil))
	assert.Equal(t, "", HashArgs(map[string]any{}))
}

func TestHashArgs_Unmarshalable(t *testing.T) {
	t.Parallel()
	h := HashArgs(map[string]any{"ch": make(chan int)})
	assert.Len(t, h, 64)
}

func TestExecutionStatus(t *testing.T) {
	t.Parallel()
	assert.True(t, StatusPartial.IsValid())
	assert.False(t, ExecutionStatus("unknown").IsValid())
	assert.True(t, StatusTimeout.IsError())
	assert.True(t, StatusFailure.IsError())
	assert.False(t, StatusPartial.IsError())

	rec := ExecutionRecord{}
	assert.Equal(t, 0.5, rec.ConfidenceOr(0.5))
	rec.Confidence = Float64(0.9)
	assert.Equal(t, 0.9, rec.ConfidenceOr(0.5))
}
