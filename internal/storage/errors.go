package storage

import (
	"errors"
	"fmt"
)

// Storage errors.
var (
	// ErrTableNotAllowed is returned when a table name is not on the read allow-list.
	ErrTableNotAllowed = errors.New("table not allowed")

	// ErrUnknownColumn is matched by *UnknownColumnError.
	ErrUnknownColumn = errors.New("unknown column")
)

// ProvisioningKind classifies schema-stage failures.
type ProvisioningKind string

const (
	ProvisioningUnreachable  ProvisioningKind = "unreachable"
	ProvisioningIncompatible ProvisioningKind = "incompatible"
)

// ProvisioningError is returned by Provisioner.EnsureTable.
type ProvisioningError struct {
	Kind  ProvisioningKind
	Table string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision table %s: %s: %v", e.Table, e.Kind, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// LoadKind classifies write-stage failures.
type LoadKind string

const (
	LoadConnectionFailure LoadKind = "connection_failure"
	LoadTypeMismatch      LoadKind = "type_mismatch"
)

// LoadError is returned by Loader.ReplaceAll.
type LoadError struct {
	Kind  LoadKind
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load table %s: %s: %v", e.Table, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IncompatibleColumn describes one mismatch between the contract and an existing table.
type IncompatibleColumn struct {
	Column string
	Want   string
	Got    string // empty when the column is missing
}

// IncompatibleSchemaError lists every mismatching column.
type IncompatibleSchemaError struct {
	Columns []IncompatibleColumn
}

func (e *IncompatibleSchemaError) Error() string {
	msg := fmt.Sprintf("%d incompatible column(s):", len(e.Columns))
	for _, c := range e.Columns {
		if c.Got == "" {
			msg += fmt.Sprintf(" %s missing (want %s);", c.Column, c.Want)
		} else {
			msg += fmt.Sprintf(" %s is %s (want %s);", c.Column, c.Got, c.Want)
		}
	}
	return msg
}

// UnknownColumnError is returned when a requested column is not in a result.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q", e.Column)
}

func (e *UnknownColumnError) Is(target error) bool {
	return target == ErrUnknownColumn
}

// NewProvisioningError builds a ProvisioningError.
func NewProvisioningError(kind ProvisioningKind, table string, err error) *ProvisioningError {
	return &ProvisioningError{Kind: kind, Table: table, Err: err}
}

// NewLoadError builds a LoadError.
func NewLoadError(kind LoadKind, table string, err error) *LoadError {
	return &LoadError{Kind: kind, Table: table, Err: err}
}

// IsProvisioningKind reports whether err is a ProvisioningError of the given kind.
func IsProvisioningKind(err error, kind ProvisioningKind) bool {
	var pe *ProvisioningError
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsLoadKind reports whether err is a LoadError of the given kind.
func IsLoadKind(err error, kind LoadKind) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Kind == kind
}
