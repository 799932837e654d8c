package schema

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidIdentifier is returned for names that may not reach SQL.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Postgres truncates identifiers at 63 bytes.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier checks a table or column name against the allowed shape.
// Backends still quote the name; this rejects anything a quote would have to escape.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// Validate checks the table name and every column name.
func (t Table) Validate() error {
	if err := ValidateIdentifier(t.Name); err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if err := ValidateIdentifier(c.Name); err != nil {
			return err
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
