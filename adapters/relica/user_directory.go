package relica

import (
	"context"
	"database/sql"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/coregx/relica"
)

// UserDirectory implements courier.UserDirectory over a table (or view) with
// the columns id, email, active and email_verified.
//
// The engine never writes to it. Point it at your own users table, or at a
// view exposing those four columns, with NewUserDirectoryWithTable.
type UserDirectory struct {
	db    *relica.DB
	table string
}

// NewUserDirectory reads from the default courier_user table.
func NewUserDirectory(sqlDB *sql.DB, driverName string) *UserDirectory {
	return &UserDirectory{db: relica.WrapDB(sqlDB, driverName), table: defaultPrefix + "user"}
}

// NewUserDirectoryWithTable reads from a custom table or view.
func NewUserDirectoryWithTable(sqlDB *sql.DB, driverName, table string) *UserDirectory {
	return &UserDirectory{db: relica.WrapDB(sqlDB, driverName), table: table}
}

// ListActiveVerified returns every active user with a verified email.
func (d *UserDirectory) ListActiveVerified(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := d.db.WithContext(ctx).Select("id, email, active, email_verified").
		From(d.table).
		Where("active = ? AND email_verified = ?", true, true).
		OrderBy("id ASC").
		All(&users)
	if err != nil {
		return nil, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to list users", err)
	}
	return users, nil
}
