// Package metadata defines the account and upload-event records the server
// reads and writes, and the store interfaces backing them.
package metadata

import (
	"context"
	"errors"
	"time"
)

// ErrAccountNotFound is returned when no account matches a username or id.
var ErrAccountNotFound = errors.New("account not found")

// Account is a credentialed file-drop account. The server only reads
// accounts; creation, archival and deletion happen out of band.
type Account struct {
	ID           string
	Name         string
	Username     string
	PasswordHash string
	RootDir      string
	IsActive     bool
	WebhookURL   string
}

// UploadEvent is the persisted record of one completed, notified transfer.
type UploadEvent struct {
	ID         string
	AccountID  string
	FilePath   string // virtual path as the client sees it
	FileSize   int64
	SHA256     string
	ReceivedAt time.Time
}

// AccountDirectory is the read-only account lookup the server authenticates
// against.
type AccountDirectory interface {
	// FindByUsername returns the account for username, or ErrAccountNotFound.
	FindByUsername(ctx context.Context, username string) (*Account, error)

	// FindByID returns the account for id, or ErrAccountNotFound.
	FindByID(ctx context.Context, id string) (*Account, error)
}

// EventStore appends upload events. Events are append-only; the server never
// mutates or deletes them.
type EventStore interface {
	// AppendEvent persists ev, filling in ID and ReceivedAt.
	AppendEvent(ctx context.Context, ev *UploadEvent) error
}
