package storage

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// MissingCreationDataError is returned by the GetOrCreate methods when the row
// does not exist and no creation data was supplied.
type MissingCreationDataError struct {
	Entity string
	ID     string
}

func (e *MissingCreationDataError) Error() string {
	return fmt.Sprintf("%s %s does not exist and no creation data was supplied", e.Entity, e.ID)
}

// DecodeError reports a row that could not be mapped onto its entity.
type DecodeError struct {
	Entity string
	Column string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("decode %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("decode %s column %q: %v", e.Entity, e.Column, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
