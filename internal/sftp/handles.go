package sftp

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dropgate/dropgate/internal/metrics"
)

// ErrInvalidHandle is returned for tokens that are unknown or already
// closed. It maps to a failure status at the protocol layer, never a crash.
var ErrInvalidHandle = errors.New("invalid handle")

// readdirPageSize bounds one READDIR response.
const readdirPageSize = 50

// fileHandle is one open file descriptor owned by a session.
type fileHandle struct {
	token       string
	file        *os.File
	absPath     string
	virtualPath string
	appendMode  bool
	wrote       bool
}

type dirEntry struct {
	name string
	info os.FileInfo
}

// dirHandle is a directory listing snapshot with a forward-only cursor.
// The snapshot is taken at open time so pagination stays stable even if the
// directory mutates mid-listing.
type dirHandle struct {
	token   string
	entries []dirEntry
	cursor  int
}

// handleTable maps opaque tokens to open files and directory cursors for a
// single session. Sessions never share tables, so no locking is needed; the
// dispatch loop is the only accessor.
type handleTable struct {
	files map[string]*fileHandle
	dirs  map[string]*dirHandle
}

func newHandleTable() *handleTable {
	return &handleTable{
		files: make(map[string]*fileHandle),
		dirs:  make(map[string]*dirHandle),
	}
}

// newToken issues a fresh random token, retrying the (unlikely) collision
// with a live handle.
func (t *handleTable) newToken() (string, error) {
	for {
		var raw [4]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return "", fmt.Errorf("handle token: %w", err)
		}
		token := hex.EncodeToString(raw[:])
		if _, ok := t.files[token]; ok {
			continue
		}
		if _, ok := t.dirs[token]; ok {
			continue
		}
		return token, nil
	}
}

// openFile opens absPath with semantics derived from the protocol pflags and
// registers the descriptor. Parent directories are created for
// write-intending opens only.
func (t *handleTable) openFile(absPath, virtualPath string, pflags uint32) (string, error) {
	writeIntending := pflags&(pflagWrite|pflagAppend) != 0
	if writeIntending {
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return "", fmt.Errorf("create parent dirs: %w", err)
		}
	}

	f, err := os.OpenFile(absPath, osFlags(pflags), 0o644)
	if err != nil {
		return "", err
	}

	token, err := t.newToken()
	if err != nil {
		f.Close()
		return "", err
	}

	t.files[token] = &fileHandle{
		token:       token,
		file:        f,
		absPath:     absPath,
		virtualPath: virtualPath,
		appendMode:  pflags&pflagAppend != 0,
	}
	metrics.HandleOpened()
	return token, nil
}

func osFlags(pflags uint32) int {
	switch {
	case pflags&pflagAppend != 0:
		flags := os.O_WRONLY | os.O_APPEND
		if pflags&pflagCreate != 0 {
			flags |= os.O_CREATE
		}
		return flags
	case pflags&pflagRead != 0 && pflags&pflagWrite != 0:
		return os.O_RDWR
	case pflags&pflagWrite != 0:
		flags := os.O_WRONLY
		if pflags&pflagCreate != 0 {
			flags |= os.O_CREATE
		}
		if pflags&pflagTrunc != 0 {
			flags |= os.O_TRUNC
		}
		if pflags&pflagExcl != 0 {
			flags |= os.O_EXCL
		}
		return flags
	default:
		return os.O_RDONLY
	}
}

// readAt reads up to length bytes at offset. io.EOF signals end of file with
// no data.
func (t *handleTable) readAt(token string, offset uint64, length uint32) ([]byte, error) {
	h, ok := t.files[token]
	if !ok {
		return nil, ErrInvalidHandle
	}
	buf := make([]byte, length)
	n, err := h.file.ReadAt(buf, int64(offset))
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// writeAt writes data at the explicit offset the client supplied; offsets
// may arrive out of order. Append handles write at end of file instead.
func (t *handleTable) writeAt(token string, offset uint64, data []byte) error {
	h, ok := t.files[token]
	if !ok {
		return ErrInvalidHandle
	}
	var err error
	if h.appendMode {
		_, err = h.file.Write(data)
	} else {
		_, err = h.file.WriteAt(data, int64(offset))
	}
	if err != nil {
		return err
	}
	h.wrote = true
	return nil
}

// openDir snapshots the directory listing at absPath and registers a cursor.
func (t *handleTable) openDir(absPath string) (string, error) {
	names, err := readDirNames(absPath)
	if err != nil {
		return "", err
	}

	entries := make([]dirEntry, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(absPath, name))
		if err != nil {
			// Entry vanished between listing and stat; drop it.
			continue
		}
		entries = append(entries, dirEntry{name: name, info: info})
	}

	token, err := t.newToken()
	if err != nil {
		return "", err
	}
	t.dirs[token] = &dirHandle{token: token, entries: entries}
	metrics.HandleOpened()
	return token, nil
}

func readDirNames(absPath string) ([]string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// readDir returns the next page of the snapshot, or io.EOF once exhausted.
// The cursor only moves forward.
func (t *handleTable) readDir(token string) ([]dirEntry, error) {
	h, ok := t.dirs[token]
	if !ok {
		return nil, ErrInvalidHandle
	}
	if h.cursor >= len(h.entries) {
		return nil, io.EOF
	}
	end := h.cursor + readdirPageSize
	if end > len(h.entries) {
		end = len(h.entries)
	}
	page := h.entries[h.cursor:end]
	h.cursor = end
	return page, nil
}

// closeFile closes and removes a file handle, returning it so the caller can
// run the completion pipeline.
func (t *handleTable) closeFile(token string) (*fileHandle, error) {
	h, ok := t.files[token]
	if !ok {
		return nil, ErrInvalidHandle
	}
	delete(t.files, token)
	metrics.HandleClosed()
	if err := h.file.Close(); err != nil {
		return h, err
	}
	return h, nil
}

// closeDir removes a directory cursor.
func (t *handleTable) closeDir(token string) error {
	if _, ok := t.dirs[token]; !ok {
		return ErrInvalidHandle
	}
	delete(t.dirs, token)
	metrics.HandleClosed()
	return nil
}

// isFile reports whether token names a live file handle.
func (t *handleTable) isFile(token string) bool {
	_, ok := t.files[token]
	return ok
}

// closeAll releases every live descriptor. Called on session teardown so a
// dropped connection never leaks descriptors.
func (t *handleTable) closeAll() {
	for token, h := range t.files {
		h.file.Close()
		delete(t.files, token)
		metrics.HandleClosed()
	}
	for token := range t.dirs {
		delete(t.dirs, token)
		metrics.HandleClosed()
	}
}
