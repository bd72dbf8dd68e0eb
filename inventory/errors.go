package inventory

import (
	"errors"

	"github.com/BaSui01/skillflow/types"
)

var (
	ErrClosed          = errors.New("inventory store is closed")
	ErrNoBaseline      = errors.New("no baseline captured")
	ErrVersionNotFound = errors.New("version not found")
	ErrTestNotFound    = errors.New("ab test not found")
	ErrUnknownFormat   = errors.New("unknown export format")
	ErrInvalidInput    = errors.New("invalid input")
)

func noBaselineError(skillID string) error {
	return types.NewError(types.ErrNoBaseline, "no baseline captured").
		WithSkill(skillID).WithCause(ErrNoBaseline)
}

func versionNotFoundError(skillID, versionID string) error {
	return types.NewError(types.ErrVersionNotFound, "version "+versionID+" not found").
		WithSkill(skillID).WithCause(ErrVersionNotFound)
}

func storeError(op string, err error) error {
	e := types.NewError(types.ErrStoreUnavailable, op).WithCause(err)
	e.Retryable = true
	return e
}
