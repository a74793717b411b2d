package cookies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore keeps one row per account. Jars still on disk (canonical or
// legacy) are imported on first load and their files removed.
type SQLiteStore struct {
	db    *sqlx.DB
	files *FileStore
	log   logr.Logger
	now   func() time.Time
}

type jarRow struct {
	Account string `db:"account"`
	Blob    string `db:"blob"`
	SavedAt string `db:"saved_at"`
}

// NewSQLiteStore opens (and creates if needed) the database at dbName.
// files, when non-nil, is where jars written by the file store are looked up.
func NewSQLiteStore(log logr.Logger, dbName string, files *FileStore) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", dbName)
	if err != nil {
		log.Error(err, "Failed to connect to database", "dbType", "sqlite3", "dbName", dbName)
		return nil, err
	}

	s := &SQLiteStore{
		db:    db,
		files: files,
		log:   log.WithName("SQLiteStore"),
		now:   time.Now,
	}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTable() error {
	schema := `
    CREATE TABLE IF NOT EXISTS cookie_jars (
        account TEXT PRIMARY KEY,
        blob TEXT NOT NULL,
        saved_at TEXT NOT NULL
    );
`
	if _, err := s.db.Exec(schema); err != nil {
		s.log.Error(err, "Failed to execute create table query")
		return err
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, account string) ([]Record, error) {
	var row jarRow
	err := s.db.GetContext(ctx, &row, `SELECT account, blob, saved_at FROM cookie_jars WHERE account = ?`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return s.importFiles(ctx, account)
	}
	if err != nil {
		return nil, err
	}
	records, _, err := Parse([]byte(row.Blob), "")
	if err != nil {
		return nil, fmt.Errorf("cookies: row %s: %w", account, err)
	}
	return records, nil
}

func (s *SQLiteStore) importFiles(ctx context.Context, account string) ([]Record, error) {
	if s.files == nil {
		return nil, ErrNotFound
	}
	records, err := s.files.Load(ctx, account)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, account, records); err != nil {
		return nil, err
	}
	if err := s.files.Delete(ctx, account); err != nil {
		s.log.Error(err, "Failed to remove imported cookie jar files")
	}
	s.log.Info("Imported cookie jar into database", "count", len(records))
	return records, nil
}

// Save upserts the account's jar.
func (s *SQLiteStore) Save(ctx context.Context, account string, records []Record) error {
	now := s.now()
	blob, err := marshal(account, records, now)
	if err != nil {
		return err
	}
	query := `
    INSERT INTO cookie_jars (account, blob, saved_at)
    VALUES (:account, :blob, :saved_at)
    ON CONFLICT(account) DO UPDATE SET
        blob = excluded.blob,
        saved_at = excluded.saved_at;
`
	_, err = s.db.NamedExecContext(ctx, query, jarRow{
		Account: account,
		Blob:    string(blob),
		SavedAt: now.UTC().Format(time.RFC3339),
	})
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, account string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cookie_jars WHERE account = ?`, account)
	return err
}
