// Package postgres provides a PostgreSQL-backed account directory and
// upload-event store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"

	"github.com/dropgate/dropgate/internal/logging"
	"github.com/dropgate/dropgate/internal/metadata"
	"github.com/dropgate/dropgate/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is a PostgreSQL metadata store.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL metadata store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// FindByUsername returns the account for username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*metadata.Account, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("find_account_by_username", time.Since(start)) }()

	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, name, username, password_hash, root_dir, is_active, webhook_url
		 FROM sftp_accounts WHERE username = $1`, username))
}

// FindByID returns the account for id.
func (s *Store) FindByID(ctx context.Context, id string) (*metadata.Account, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("find_account_by_id", time.Since(start)) }()

	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, name, username, password_hash, root_dir, is_active, webhook_url
		 FROM sftp_accounts WHERE id = $1`, id))
}

func (s *Store) scanAccount(row *sql.Row) (*metadata.Account, error) {
	var a metadata.Account
	var passwordHash sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.Username, &passwordHash,
		&a.RootDir, &a.IsActive, &a.WebhookURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if passwordHash.Valid {
		a.PasswordHash = passwordHash.String
	}
	return &a, nil
}

// AppendEvent persists an upload event, filling in ID and ReceivedAt.
func (s *Store) AppendEvent(ctx context.Context, ev *metadata.UploadEvent) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("append_event", time.Since(start)) }()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sftp_events (id, account_id, file_path, file_size, sha256)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING received_at`,
		ev.ID, ev.AccountID, ev.FilePath, ev.FileSize, ev.SHA256).
		Scan(&ev.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
