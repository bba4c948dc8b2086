// Package sqlutil builds MySQL identifiers for the state tables.
package sqlutil

import (
	"regexp"
	"strings"
)

// QuoteIdentifier wraps a MySQL identifier in backticks, doubling any
// backtick inside it.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var validIdentifierRegex = regexp.MustCompile("^[a-zA-Z0-9_]+$")

// IsValidIdentifier reports whether name holds only ASCII letters, digits
// and underscores.
func IsValidIdentifier(name string) bool {
	return validIdentifierRegex.MatchString(name)
}

// PrefixedTable returns the quoted name "<prefix>_<name>". An empty prefix
// yields just the quoted name. Both parts must be valid identifiers.
func PrefixedTable(prefix, name string) (string, error) {
	full := name
	if prefix != "" {
		full = prefix + "_" + name
	}
	if !IsValidIdentifier(full) {
		return "", &InvalidIdentifierError{Name: full}
	}
	return QuoteIdentifier(full), nil
}

// InvalidIdentifierError is returned when an identifier contains invalid characters.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return "invalid identifier: " + e.Name + " (must contain only alphanumeric characters and underscores)"
}
