package storage

import (
	"fmt"

	"mvr-etl/internal/schema"
)

// AllowList restricts which tables a reader may be asked for.
type AllowList struct {
	tables map[string]struct{}
}

// NewAllowList builds an allow-list. Every name must be a valid identifier.
func NewAllowList(tables ...string) (*AllowList, error) {
	a := &AllowList{tables: make(map[string]struct{}, len(tables))}
	for _, t := range tables {
		if err := schema.ValidateIdentifier(t); err != nil {
			return nil, err
		}
		a.tables[t] = struct{}{}
	}
	return a, nil
}

// Check validates name and requires it to be allow-listed.
func (a *AllowList) Check(name string) error {
	if err := schema.ValidateIdentifier(name); err != nil {
		return err
	}
	if _, ok := a.tables[name]; !ok {
		return fmt.Errorf("%w: %s", ErrTableNotAllowed, name)
	}
	return nil
}
