package chat

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrAuth            = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrNotAMember      = errors.New("not a member of this group")

	ErrGroupNotFound   = fmt.Errorf("group %w", ErrNotFound)
	ErrAlreadyResolved = fmt.Errorf("pending request %w", ErrNotFound)
)

func validation(what string) error {
	return fmt.Errorf("%w: %s", ErrValidation, what)
}
