package apperr

import (
	"database/sql"
	"errors"
	"net/http"
	"os"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// refineDatabase maps a wrapped database error to its HTTP status per
// §7's "Database-cause refinement": RowNotFound -> 404, unique
// violation -> 409, FK/check violation -> 400, pool exhaustion -> 503.
func refineDatabase(cause error) int {
	if cause == nil {
		return http.StatusInternalServerError
	}
	if errors.Is(cause, sql.ErrNoRows) {
		return http.StatusNotFound
	}
	if errors.Is(cause, sql.ErrConnDone) || errors.Is(cause, sql.ErrTxDone) {
		return http.StatusServiceUnavailable
	}
	var serr *sqlite.Error
	if errors.As(cause, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return http.StatusConflict
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return http.StatusBadRequest
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// refineIO maps a wrapped filesystem error per §7's "I/O-cause
// refinement": NotFound -> 404, PermissionDenied -> 403, storage-full
// -> 507, else 500.
func refineIO(cause error) int {
	if cause == nil {
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(cause, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(cause, os.ErrPermission):
		return http.StatusForbidden
	case isDiskFull(cause):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func isDiskFull(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err.Error() == "no space left on device"
	}
	return false
}
