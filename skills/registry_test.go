package skills

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/types"
)

func echoHandler(tag string) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"tag": tag}, nil
	}
}

func desc(id string, deps ...string) types.SkillDescriptor {
	return types.SkillDescriptor{ID: id, Name: id, Version: "1.0.0", Handler: "echo", DependsOn: deps}
}

func TestRegistry_DuplicateKeepsFirstHandler(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())

	require.NoError(t, r.Register(NewSkill(desc("summarize"), echoHandler("first"))))
	err := r.Register(NewSkill(desc("summarize"), echoHandler("second")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateSkill))
	assert.True(t, types.IsErrorCode(err, types.ErrDuplicateSkill))

	s, ok := r.Get("summarize")
	require.True(t, ok)
	out, err := s.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", out["tag"])
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_CycleRejectsBoth(t *testing.T) {
	r := NewRegistry(nil, nil)

	errA := r.Register(NewSkill(desc("a", "b"), echoHandler("a")))
	errB := r.Register(NewSkill(desc("b", "a"), echoHandler("b")))

	require.Error(t, errA)
	require.Error(t, errB)
	_, okA := r.Get("a")
	_, okB := r.Get("b")
	assert.False(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 0, r.Validator().graph.Len(), "rejected nodes must leave no edges behind")
}

func TestRegistry_CycleViaReplaceRollsBackEdges(t *testing.T) {
	r := NewRegistry(nil, nil)

	require.NoError(t, r.Register(NewSkill(desc("b"), echoHandler("b"))))
	require.NoError(t, r.Register(NewSkill(desc("a", "b"), echoHandler("a"))))

	_, err := r.Replace(NewSkill(desc("b", "a"), echoHandler("b2")))
	require.Error(t, err)

	var cyc *CycleError
	require.True(t, errors.As(err, &cyc))
	assert.Equal(t, []string{"b", "a", "b"}, cyc.Path)

	s, _ := r.Get("b")
	out, _ := s.Invoke(context.Background(), nil)
	assert.Equal(t, "b", out["tag"], "original handler stays active")
	assert.Empty(t, r.Validator().graph.Dependencies("b"))

	order, err := r.Validator().TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestRegistry_SelfDependencyIsCycle(t *testing.T) {
	r := NewRegistry(nil, nil)
	err := r.Register(NewSkill(desc("loop", "loop"), echoHandler("x")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircularDependency))
}

func TestRegistry_MissingDependency(t *testing.T) {
	r := NewRegistry(nil, nil)
	err := r.Register(NewSkill(desc("report", "fetch"), echoHandler("x")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDependency))
	assert.False(t, r.Validator().graph.Has("report"))
}

func TestRegistry_UnregisterAndList(t *testing.T) {
	r := NewRegistry(nil, nil)
	d1 := desc("b")
	d1.Category = "data"
	d2 := desc("a")
	d2.Category = "ops"
	require.NoError(t, r.Register(NewSkill(d1, echoHandler("b"))))
	require.NoError(t, r.Register(NewSkill(d2, echoHandler("a"))))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID())
	assert.Len(t, r.ListByCategory("data"), 1)

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_ReplaceUnknown(t *testing.T) {
	r := NewRegistry(nil, nil)
	_, err := r.Replace(NewSkill(desc("ghost"), echoHandler("x")))
	assert.True(t, errors.Is(err, ErrSkillNotFound))
}

func TestRegistry_ConcurrentReadsDuringWrites(t *testing.T) {
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Register(NewSkill(desc("base"), echoHandler("base"))))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, ok := r.Get("base"); !ok {
					t.Errorf("base disappeared")
					return
				}
				_ = r.List()
			}
		}()
	}
	for i := 0; i < 50; i++ {
		_, err := r.Replace(NewSkill(desc("base"), echoHandler("base")))
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestSkill_InvokeWithoutHandler(t *testing.T) {
	s := NewSkill(desc("empty"), nil)
	_, err := s.Invoke(context.Background(), nil)
	assert.True(t, types.IsErrorCode(err, types.ErrHandlerNotFound))
}
