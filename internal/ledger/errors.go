package ledger

import "fmt"

// StoreError tags any failure coming out of the underlying storage engine:
// I/O, connectivity, constraint violations. It propagates unchanged to the
// caller; the ledger never retries or partially recovers.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err with the failing operation name. Nil errors pass
// through so call sites can wrap unconditionally.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
