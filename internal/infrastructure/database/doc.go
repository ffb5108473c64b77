// Package database manages the SQLite connection used for the ring
// audit trail.
//
// It wraps database/sql with lifecycle management (directory creation,
// WAL pragmas, file permissions, health checks) and a small embedded
// migration runner. Migrations live in the top-level migrations package
// and are compiled into the binary, so deployments never need loose SQL
// files on disk.
package database
