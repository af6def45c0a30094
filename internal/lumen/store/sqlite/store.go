package sqlite

import (
	"database/sql"
	"time"

	dbpkg "github.com/BrandonDHaskell/Lumen/server/internal/db"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

// Store implements store.Store on SQLite. Reads go straight to the pool;
// every write runs as one transaction on the shared Worker.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

func toMs(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMs(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
