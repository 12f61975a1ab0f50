// Package store implements the versioned-SQLite-store contract shared by
// the collectd and reportd daemons: open, verify a purpose/version
// singleton row, create the schema on first use, and fail fast on mismatch.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/exitcode"
)

// VersionErr is returned by OpenVersioned when an existing database's
// dbversion row does not match the expected purpose or version. Callers
// exit the process with exitcode.WrongDBVersion on this error.
type VersionErr struct {
	Path    string
	Wanted  string
	Got     string
	Version int
}

func (e *VersionErr) Error() string {
	return fmt.Sprintf("database %s has wrong purpose/version: wanted %q got %q (version %d)",
		e.Path, e.Wanted, e.Got, e.Version)
}

// SetupErr wraps a failure to create the schema on a fresh database.
// Callers exit with exitcode.DBSetupFailure on this error.
type SetupErr struct {
	Path string
	Err  error
}

func (e *SetupErr) Error() string {
	return fmt.Sprintf("database %s setup failed: %s", e.Path, e.Err)
}

func (e *SetupErr) Unwrap() error { return e.Err }

// DB wraps an opened, schema-verified SQLite database.
type DB struct {
	Path    string
	Purpose string
	SQL     *sql.DB
}

// OpenVersioned opens (or creates) a SQLite database at path, enforcing the
// §4.8 versioned-store contract: a dbversion singleton row carrying
// purpose and version==1. ddl is executed, in order, only when the
// dbversion table does not yet exist.
func OpenVersioned(path, purpose string, ddl []string, logger *zap.Logger) (*DB, error) {
	logger.Debug("opening database", zap.String("path", path))
	sqldb, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, &SetupErr{Path: path, Err: err}
	}
	db := &DB{Path: path, Purpose: purpose, SQL: sqldb}

	ok, verErr := db.checkDatabase()
	if verErr != nil {
		return nil, verErr
	}
	if ok {
		logger.Info("database looks OK", zap.String("path", path))
		return db, nil
	}

	logger.Info("creating new database", zap.String("path", path))
	if err := db.setupDatabase(ddl); err != nil {
		return nil, err
	}
	return db, nil
}

// checkDatabase reports whether the dbversion row matches this store's
// purpose and version. A missing table is reported as (false, nil) so the
// caller proceeds to create the schema; a version/purpose mismatch is
// reported as a *VersionErr.
func (d *DB) checkDatabase() (bool, error) {
	row := d.SQL.QueryRow("SELECT version, installdate, purpose FROM dbversion")
	var version int
	var installdate, purpose string
	if err := row.Scan(&version, &installdate, &purpose); err != nil {
		return false, nil
	}
	if purpose != d.Purpose || version != 1 {
		return false, &VersionErr{Path: d.Path, Wanted: d.Purpose, Got: purpose, Version: version}
	}
	return true, nil
}

func (d *DB) setupDatabase(ddl []string) error {
	tx, err := d.SQL.Begin()
	if err != nil {
		return &SetupErr{Path: d.Path, Err: err}
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return &SetupErr{Path: d.Path, Err: err}
		}
	}
	installdate := time.Now().UTC().Format("2006-01-02 15-04-05.000000")
	if _, err := tx.Exec("INSERT INTO dbversion(version, installdate, purpose) VALUES(1, ?, ?)",
		installdate, d.Purpose); err != nil {
		_ = tx.Rollback()
		return &SetupErr{Path: d.Path, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &SetupErr{Path: d.Path, Err: err}
	}
	return nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.SQL.Close()
}

// ExitOnVersionedError maps an OpenVersioned error to the exit code
// mandated by §4.8/§6 and terminates the process.
func ExitOnVersionedError(logger *zap.Logger, err error) {
	var verErr *VersionErr
	if asVersionErr(err, &verErr) {
		logger.Error("database version mismatch", zap.Error(err))
		os.Exit(exitcode.WrongDBVersion)
	}
	logger.Error("database setup failure", zap.Error(err))
	os.Exit(exitcode.DBSetupFailure)
}

func asVersionErr(err error, target **VersionErr) bool {
	ve, ok := err.(*VersionErr)
	if ok {
		*target = ve
	}
	return ok
}
