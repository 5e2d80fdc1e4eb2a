package sftp

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a requested path resolves outside the
// account's sandbox root. Handlers translate it to a permission-denied
// status; the resolved path never reaches the client.
var ErrPathEscape = errors.New("path escapes sandbox root")

// sandbox confines client-supplied virtual paths to one account root.
type sandbox struct {
	root string
}

// newSandbox canonicalizes root once for the session. The root must already
// exist; provisioning it is the account lifecycle's job, not ours.
func newSandbox(root string) (*sandbox, error) {
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return nil, fmt.Errorf("canonicalize root %s: %w", root, err)
	}
	return &sandbox{root: abs}, nil
}

// resolve maps a virtual path onto the filesystem. It returns the absolute
// path and the canonical virtual form ("/" rooted, forward slashes).
//
// Resolution is purely lexical: ".." segments are collapsed by Join, and
// symlinks are not followed, since write targets may not exist yet. The
// result is accepted only if it is the root itself or a strict descendant.
// This runs before any syscall that could disclose existence.
func (s *sandbox) resolve(virtual string) (abs string, canonical string, err error) {
	rel := strings.TrimLeft(virtual, "/")
	if rel == "" || rel == "." {
		return s.root, "/", nil
	}

	abs = filepath.Join(s.root, filepath.FromSlash(rel))
	if abs == s.root {
		return abs, "/", nil
	}
	prefix := s.root + string(filepath.Separator)
	if !strings.HasPrefix(abs, prefix) {
		return "", "", ErrPathEscape
	}

	canonical = "/" + filepath.ToSlash(strings.TrimPrefix(abs, prefix))
	return abs, canonical, nil
}
