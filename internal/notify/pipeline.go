package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dropgate/dropgate/internal/logging"
	"github.com/dropgate/dropgate/internal/metadata"
	"github.com/dropgate/dropgate/internal/metrics"
	"go.uber.org/zap"
)

// ErrAccountInactive is returned when an account was deactivated between the
// open and close of a transfer.
var ErrAccountInactive = errors.New("account inactive")

// Guard suppresses duplicate notification attempts for the same completed
// write within one session. The key is (path, size, mtime) — an identity for
// the close event, not a content hash. It is in-memory only: it does not
// survive restarts and does not coordinate across sessions.
type Guard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewGuard creates an empty session-scoped guard.
func NewGuard() *Guard {
	return &Guard{keys: make(map[string]struct{})}
}

// begin records the key and reports whether this caller won it. A false
// return means the same completed write is already being (or has been)
// notified.
func (g *Guard) begin(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.keys[key]; ok {
		return false
	}
	g.keys[key] = struct{}{}
	return true
}

// release forgets the key so a later legitimate retry is not suppressed.
func (g *Guard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
}

// Pipeline turns completed writes into persisted, notified upload events.
// One Pipeline is shared by all sessions; per-session state lives in the
// Guard each session owns.
type Pipeline struct {
	accounts metadata.AccountDirectory
	events   metadata.EventStore
	webhooks *WebhookDispatcher

	// wg tracks in-flight deliveries so shutdown can drain them.
	wg sync.WaitGroup
}

// NewPipeline wires the completion pipeline to its collaborators.
func NewPipeline(accounts metadata.AccountDirectory, events metadata.EventStore, webhooks *WebhookDispatcher) *Pipeline {
	return &Pipeline{accounts: accounts, events: events, webhooks: webhooks}
}

// FileReceived runs the completion pipeline for a closed, written-to file.
// It returns immediately after claiming the dedup key; hashing, persistence
// and delivery run asynchronously so a slow callback endpoint never stalls
// the client's CLOSE. Failures are logged, the guard entry is rolled back,
// and the transfer itself is unaffected.
func (p *Pipeline) FileReceived(ctx context.Context, guard *Guard, accountID, virtualPath, absPath string) {
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return
	}

	key := fmt.Sprintf("%s|%d|%d", absPath, info.Size(), info.ModTime().UnixNano())
	if !guard.begin(key) {
		logging.Debug("duplicate close suppressed",
			zap.String("account_id", accountID),
			zap.String("path", virtualPath))
		return
	}

	metrics.RecordUploadCompleted()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.notify(ctx, accountID, virtualPath, absPath, info.Size()); err != nil {
			guard.release(key)
			logging.Error("upload notification failed",
				zap.String("account_id", accountID),
				zap.String("path", virtualPath),
				zap.Error(err))
		}
	}()
}

func (p *Pipeline) notify(ctx context.Context, accountID, virtualPath, absPath string, size int64) error {
	digest, err := hashFile(absPath)
	if err != nil {
		return fmt.Errorf("hash %s: %w", virtualPath, err)
	}

	account, err := p.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}
	if !account.IsActive {
		return ErrAccountInactive
	}

	ev := &metadata.UploadEvent{
		AccountID: accountID,
		FilePath:  virtualPath,
		FileSize:  size,
		SHA256:    digest,
	}
	if err := p.events.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	payload := WebhookPayload{
		ID:         ev.ID,
		AccountID:  ev.AccountID,
		FilePath:   ev.FilePath,
		FileSize:   ev.FileSize,
		SHA256:     ev.SHA256,
		ReceivedAt: ev.ReceivedAt,
	}
	if err := p.webhooks.Deliver(ctx, account.WebhookURL, payload); err != nil {
		return err
	}

	logging.Info("upload notified",
		zap.String("account_id", accountID),
		zap.String("path", virtualPath),
		zap.Int64("size", size),
		zap.String("sha256", digest))
	return nil
}

// Drain waits for in-flight deliveries to finish.
func (p *Pipeline) Drain() {
	p.wg.Wait()
}

func hashFile(absPath string) (string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
