package graph

import (
	"fmt"

	"github.com/patchgraph/ingen/internal/errors"
)

// Sentinel errors; match with errors.Is.
var (
	ErrNotFound          = errors.NewStd("not found")
	ErrExists            = errors.NewStd("already exists")
	ErrInvalidPath       = errors.NewStd("invalid path")
	ErrCycle             = errors.NewStd("connection would create a cycle")
	ErrInvalidConnection = errors.NewStd("invalid connection")
	ErrTypeMismatch      = errors.NewStd("port type mismatch")
	ErrWrongKind         = errors.NewStd("object has the wrong kind")
	ErrRootProtected     = errors.NewStd("root patch cannot be destroyed")
)

const component = "graph"

func errInvalidPath(s string) error {
	return errors.New(fmt.Errorf("%w: %q", ErrInvalidPath, s)).
		Component(component).
		Category(errors.CategoryValidation).
		Context("path", s).
		Build()
}

func errNotFound(p Path) error {
	return errors.New(fmt.Errorf("%s %w", p, ErrNotFound)).
		Component(component).
		Category(errors.CategoryNotFound).
		Context("path", p.String()).
		Build()
}

func errExists(p Path) error {
	return errors.New(fmt.Errorf("%s %w", p, ErrExists)).
		Component(component).
		Category(errors.CategoryConflict).
		Context("path", p.String()).
		Build()
}

func errWrongKind(p Path, want ObjectKind) error {
	return errors.New(fmt.Errorf("%s is not a %s: %w", p, want, ErrWrongKind)).
		Component(component).
		Category(errors.CategoryValidation).
		Context("path", p.String()).
		Context("want", want.String()).
		Build()
}

func errConnection(src, dst Path, cause error) error {
	return errors.New(fmt.Errorf("%s -> %s: %w", src, dst, cause)).
		Component(component).
		Category(errors.CategoryGraph).
		Context("src", src.String()).
		Context("dst", dst.String()).
		Build()
}

func errRootProtected() error {
	return errors.New(ErrRootProtected).
		Component(component).
		Category(errors.CategoryValidation).
		Context("path", Root.String()).
		Build()
}
