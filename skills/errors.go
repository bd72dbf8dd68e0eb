package skills

import (
	"errors"
	"strings"

	"github.com/BaSui01/skillflow/types"
)

var (
	ErrDuplicateSkill     = errors.New("skill already registered")
	ErrSkillNotFound      = errors.New("skill not found")
	ErrCircularDependency = errors.New("circular dependency")
	ErrMissingDependency  = errors.New("missing dependency")
	ErrInvalidManifest    = errors.New("invalid manifest")
	ErrHandlerNotFound    = errors.New("handler not found")
)

// CycleError reports a dependency cycle with its full path, e.g. [a b a].
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "circular dependency: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error {
	return ErrCircularDependency
}

func duplicateError(id string) error {
	return types.NewError(types.ErrDuplicateSkill, "already registered").
		WithSkill(id).WithCause(ErrDuplicateSkill)
}

func notFoundError(id string) error {
	return types.NewError(types.ErrSkillNotFound, "not registered").
		WithSkill(id).WithCause(ErrSkillNotFound)
}

func cycleError(id string, path []string) error {
	return types.NewError(types.ErrCircularDependency, "rejected").
		WithSkill(id).WithCause(&CycleError{Path: path})
}

func missingError(id string, missing []string) error {
	return types.NewError(types.ErrMissingDependency, "depends on unregistered "+strings.Join(missing, ", ")).
		WithSkill(id).WithCause(ErrMissingDependency)
}
