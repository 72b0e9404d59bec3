// Package relica provides repository implementations using Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies.
//
// This package provides implementations of every courier repository interface:
//   - MessageRepository
//   - EventRepository
//   - SubscriptionRepository
//   - PreferenceRepository
//   - UserDirectory (read-only)
//
// Unique index violations are reported as courier.ErrDuplicateKey on MySQL,
// PostgreSQL and SQLite alike; the services depend on that to resolve
// concurrent duplicates without locks.
//
// Example usage:
//
//	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/courier?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := courier.ApplyMigrations(ctx, db, "mysql"); err != nil {
//	    log.Fatal(err)
//	}
//
//	repos := relica.NewRepositories(db, "mysql")
//	store := courier.NewMessageStore(repos.Message, nil)
package relica
