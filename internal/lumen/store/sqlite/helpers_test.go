package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/Lumen/server/internal/db"
	sqlitestore "github.com/BrandonDHaskell/Lumen/server/internal/lumen/store/sqlite"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production. The connection is closed automatically when the
// test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Each test gets its own in-memory database. The shared-cache URI
	// keeps it alive for the lifetime of the pool.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := db.DSN(fmt.Sprintf("file:test_%s?mode=memory&cache=shared", name))

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	// Match production: single connection for SQLite safety.
	db.SingleConn(conn)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn. The worker is closed
// automatically when the test finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

// testLayout:
//
//	room 1 (10.0.0.1): light 7 on, light 8 on, motion 9 off; enabled policy, quota 2
//	room 2 (10.0.0.2): light 20 off; disabled policy
var testLayout = db.SeedFile{Rooms: []db.SeedRoom{
	{
		ID:                   1,
		Name:                 "Aula 101",
		Address:              "10.0.0.1",
		InactivityTimeoutMin: 30,
		AutoShutdown:         true,
		Sensors: []db.SeedSensor{
			{ID: 7, Type: "light", Description: "front", State: "true"},
			{ID: 8, Type: "light", Description: "back", State: "true"},
			{ID: 9, Type: "motion", State: "false"},
		},
		Policy: &db.SeedPolicy{
			Enabled:       true,
			InactivityMin: 30,
			WorkHoursOnly: true,
			WorkStart:     "08:00",
			WorkEnd:       "18:00",
			Weekdays:      []bool{false, true, true, true, true, true, false},
			GraceMin:      5,
			DailyQuota:    2,
		},
	},
	{
		ID:                   2,
		Name:                 "Aula 203",
		Address:              "10.0.0.2",
		InactivityTimeoutMin: 45,
		Sensors:              []db.SeedSensor{{ID: 20, Type: "light", State: "false"}},
		Policy:               &db.SeedPolicy{Enabled: false},
	},
}}

// newTestStore returns a seeded store and its raw connection.
func newTestStore(t *testing.T) (*sqlitestore.Store, *sql.DB) {
	t.Helper()
	conn := openTestDB(t)
	if err := db.Seed(context.Background(), conn, testLayout); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return sqlitestore.New(conn, newTestWriter(t, conn)), conn
}
