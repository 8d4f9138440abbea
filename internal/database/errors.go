package database

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrNotNull         = errors.New("not null constraint failed")
)

// ConstraintError describes a rejected write.
type ConstraintError struct {
	Type    string
	Table   string
	Column  string
	Message string
	Cause   error
}

func (e *ConstraintError) Error() string {
	return e.Message
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

var (
	uniquePattern = regexp.MustCompile(`UNIQUE constraint failed: ([^\s]+)`)
	pkPattern     = regexp.MustCompile(`PRIMARY KEY constraint failed`)
	notNullRegex  = regexp.MustCompile(`NOT NULL constraint failed: ([^\s]+)`)
)

// ClassifyError maps SQLite constraint failures to ConstraintError and
// returns any other error unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if matches := uniquePattern.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "unique",
			Cause:   ErrUniqueViolation,
			Message: "a record with this value already exists",
		}
		if table, column, ok := strings.Cut(matches[1], "."); ok {
			ce.Table = table
			ce.Column = column
			ce.Message = "a record with this " + column + " already exists in " + table
		}
		return ce
	}

	if pkPattern.MatchString(errStr) {
		return &ConstraintError{
			Type:    "unique",
			Cause:   ErrUniqueViolation,
			Message: "a record with this id already exists",
		}
	}

	if matches := notNullRegex.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "not_null",
			Cause:   ErrNotNull,
			Message: "required field is missing",
		}
		if table, column, ok := strings.Cut(matches[1], "."); ok {
			ce.Table = table
			ce.Column = column
			ce.Message = column + " is required in " + table
		}
		return ce
	}

	return err
}

func IsUniqueError(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}
