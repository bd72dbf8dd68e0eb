package skills

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/skillflow/types"
)

func TestDependencyValidator_Check(t *testing.T) {
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Register(NewSkill(desc("fetch"), echoHandler("f"))))

	d := desc("report", "fetch", "render")
	d.Requires = []string{"env:SKILLFLOW_TEST_UNSET_VAR", "bin:definitely-not-a-real-binary", "python>=3.10"}
	report := r.Validator().Check(d, r.has)

	assert.False(t, report.Valid)
	assert.Equal(t, []string{"fetch", "render"}, report.Dependencies.Skills)
	assert.Len(t, report.Dependencies.External, 3)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "render")
	assert.Len(t, report.Warnings, 2)

	assert.False(t, r.Validator().graph.Has("report"), "check must not mutate the graph")
}

func TestDependencyValidator_CheckCycle(t *testing.T) {
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Register(NewSkill(desc("b"), echoHandler("b"))))
	require.NoError(t, r.Register(NewSkill(desc("a", "b"), echoHandler("a"))))

	report := r.Validator().Check(desc("b", "a"), r.has)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "b -> a -> b")
	assert.NotEmpty(t, report.Warnings, "replacing a registered skill is flagged")
}

func TestDependencyValidator_PlanLoad(t *testing.T) {
	v := NewDependencyValidator(nil)
	candidates := []types.SkillDescriptor{
		desc("report", "summarize"),
		desc("summarize", "fetch"),
		desc("fetch"),
		desc("x", "y"),
		desc("y", "x"),
		desc("z", "x"),
	}

	order, rejected := v.PlanLoad(candidates)
	assert.Equal(t, []string{"fetch", "z", "summarize", "report"}, order)
	require.Len(t, rejected, 2)
	assert.True(t, errors.Is(rejected["x"], ErrCircularDependency))
	assert.True(t, errors.Is(rejected["y"], ErrCircularDependency))
	assert.Equal(t, 0, v.graph.Len(), "planning works on a copy")
}
