package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrJobNotFound     = fmt.Errorf("job %w", ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("item %w", ErrNotFound)
	ErrAlreadyTerminal = errors.New("job already in terminal state")
)
