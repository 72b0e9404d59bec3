package relica

import (
	"database/sql"
	"strings"

	"github.com/coregx/courier"
)

const (
	defaultPrefix = "courier_"

	// inBatchSize bounds the number of placeholders of one IN (...) query.
	inBatchSize = 500
)

// Repositories holds all repository implementations.
type Repositories struct {
	Message      courier.MessageRepository
	Event        courier.EventRepository
	Subscription courier.SubscriptionRepository
	Preference   courier.PreferenceRepository
	Users        courier.UserDirectory

	// Tx binds message and event writes to one transaction.
	Tx *TxRunner
}

// NewRepositories creates all repository implementations using Relica.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite.
// The driverName should be "mysql", "postgres", or "sqlite3".
// The table prefix defaults to "courier_" but can be customized.
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return NewRepositoriesWithPrefix(db, driverName, defaultPrefix)
}

// NewRepositoriesWithPrefix creates all repository implementations with a custom table prefix.
// The user directory reads <prefix>user.
func NewRepositoriesWithPrefix(db *sql.DB, driverName, prefix string) *Repositories {
	return &Repositories{
		Message:      NewMessageRepositoryWithPrefix(db, driverName, prefix),
		Event:        NewEventRepositoryWithPrefix(db, driverName, prefix),
		Subscription: NewSubscriptionRepositoryWithPrefix(db, driverName, prefix),
		Preference:   NewPreferenceRepositoryWithPrefix(db, driverName, prefix),
		Users:        NewUserDirectoryWithTable(db, driverName, prefix+"user"),
		Tx:           NewTxRunner(db, driverName),
	}
}

// placeholders returns n comma separated bind markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
