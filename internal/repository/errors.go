package repository

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateActiveAlert = errors.New("active alert with this message already exists")
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrIDConflict           = errors.New("identifier already assigned")
)

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// violates reports whether a constraint failure names the given table.column.
func violates(err error, column string) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), column)
}
