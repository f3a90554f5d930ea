package engine

import (
	"github.com/patchgraph/ingen/internal/errors"
)

const component = "engine"

// Sentinel errors; match with errors.Is.
var (
	ErrInactive    = errors.NewStd("engine is not active")
	ErrUnknownKind = errors.NewStd("unknown event kind")
	ErrNoRoot      = errors.NewStd("root patch missing after activation")
)

func errInactive() error {
	return errors.New(ErrInactive).
		Component(component).
		Category(errors.CategoryState).
		Build()
}

func errUnknownKind(k Kind) error {
	return errors.New(ErrUnknownKind).
		Component(component).
		Category(errors.CategoryValidation).
		Context("kind", uint16(k)).
		Build()
}
