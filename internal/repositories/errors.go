package repositories

import "fmt"

// ErrorKind categorises StoreError values.
type ErrorKind int

const (
	ErrorKindOther ErrorKind = iota
	ErrorKindNotFound
	ErrorKindConflict
	ErrorKindUnavailable
)

// StoreError is the RepositoryError used by the in-process and file backed stores.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

// NewStoreError builds a StoreError.
func NewStoreError(op string, kind ErrorKind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == ErrorKindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == ErrorKindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }
