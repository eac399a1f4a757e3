// Package storage persists the registry snapshot (subscribed destinations and
// staff ids).
//
// Drivers:
//   - "file":   a single JSON document, {"groups":[...],"staff":[...]}
//   - "sqlite": two tables in a SQLite database (pure Go driver)
//   - "memory": process-local, for tests and dry runs
package storage
