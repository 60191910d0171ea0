package petsync

import (
	"errors"
	"fmt"

	"pawmatch.app/petsync/docstore"
)

/*
Error taxonomy:
- NetworkError: transient transport failure. The optimistic write is
  rolled back and the user input restored. Never auto-retried.
- WriteConflict: transaction-level. Retried internally a bounded number
  of times before surfacing.
- NotFound: threads are created on demand; absent profiles/pets surface
  as a non-fatal unknown-entity fallback.
- ValidationError: caught before any network call, never sent.
No error here is fatal to the process.
*/

var (
	ErrNotFound      = docstore.ErrNotFound
	ErrWriteConflict = docstore.ErrConflict
)

type NetworkError struct {
	Op  string
	Err error
}

func (self *NetworkError) Error() string {
	return fmt.Sprintf("network error in %s: %s", self.Op, self.Err)
}

func (self *NetworkError) Unwrap() error {
	return self.Err
}

type ValidationError struct {
	Field  string
	Reason string
}

func (self *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", self.Field, self.Reason)
}

// DeliveryUncertainError is raised when an optimistic entry times out
// before the stream confirms or the mutation fails. The write may or
// may not have been durable; the caller decides whether to resend.
type DeliveryUncertainError struct {
	TempId Id
	Text   string
}

func (self *DeliveryUncertainError) Error() string {
	return fmt.Sprintf("delivery uncertain for %s", self.TempId)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsWriteConflict(err error) bool {
	return errors.Is(err, ErrWriteConflict)
}

func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
