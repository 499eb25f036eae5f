package registry

import (
	"errors"
	"fmt"
)

// Decode-level failures wrapped into ParseError.
var (
	ErrExtendsCycle   = errors.New("circular extends chain")
	ErrNoContainerKey = errors.New("document has no container key")
)

// NotFoundError reports an id with no definition file.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no definition for %s", e.ID)
}

// ParseError reports a definition that could not be decoded.
type ParseError struct {
	ID  string
	Err error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("definition %s: %v", e.ID, e.Err)
}

func (e ParseError) Unwrap() error { return e.Err }
