package relica

import (
	"database/sql"
	"errors"

	"github.com/coregx/courier"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	mysqlDuplicateEntry = 1062
	pqUniqueViolation   = "23505"
)

// isUniqueViolation reports whether err is a unique index violation on any
// of the supported drivers.
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// insertError maps a failed insert to ErrDuplicateKey or a DATABASE_ERROR.
func insertError(message string, err error) error {
	if isUniqueViolation(err) {
		return courier.ErrDuplicateKey
	}
	return courier.NewErrorWithCause(courier.ErrCodeDatabase, message, err)
}

// queryError maps sql.ErrNoRows to ErrNoData and wraps everything else.
func queryError(message string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return courier.ErrNoData
	}
	return courier.NewErrorWithCause(courier.ErrCodeDatabase, message, err)
}

// rowsAffected reports whether an UPDATE touched at least one row.
func rowsAffected(res sql.Result) (bool, error) {
	if res == nil {
		return false, nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
