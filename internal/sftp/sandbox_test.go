package sftp

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSandboxResolveRoot(t *testing.T) {
	root := t.TempDir()
	sb, err := newSandbox(root)
	if err != nil {
		t.Fatalf("newSandbox: %v", err)
	}

	for _, p := range []string{"", ".", "/", "//"} {
		abs, virtual, err := sb.resolve(p)
		if err != nil {
			t.Fatalf("resolve(%q): %v", p, err)
		}
		if abs != sb.root {
			t.Errorf("resolve(%q) = %q, want root %q", p, abs, sb.root)
		}
		if virtual != "/" {
			t.Errorf("resolve(%q) virtual = %q, want /", p, virtual)
		}
	}
}

func TestSandboxResolveDescendant(t *testing.T) {
	root := t.TempDir()
	sb, err := newSandbox(root)
	if err != nil {
		t.Fatalf("newSandbox: %v", err)
	}

	abs, virtual, err := sb.resolve("/sub/report.csv")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := filepath.Join(sb.root, "sub", "report.csv")
	if abs != want {
		t.Errorf("abs = %q, want %q", abs, want)
	}
	if virtual != "/sub/report.csv" {
		t.Errorf("virtual = %q, want /sub/report.csv", virtual)
	}
}

func TestSandboxResolveEscapes(t *testing.T) {
	root := t.TempDir()
	sb, err := newSandbox(root)
	if err != nil {
		t.Fatalf("newSandbox: %v", err)
	}

	escapes := []string{
		"..",
		"../",
		"../../etc/passwd",
		"/../etc/passwd",
		"a/../../etc/passwd",
		"a/b/../../../../root",
		strings.Repeat("../", 40) + "etc/shadow",
	}
	for _, p := range escapes {
		if _, _, err := sb.resolve(p); !errors.Is(err, ErrPathEscape) {
			t.Errorf("resolve(%q): want ErrPathEscape, got %v", p, err)
		}
	}
}

func TestSandboxResolveNeverLeavesRoot(t *testing.T) {
	root := t.TempDir()
	sb, err := newSandbox(root)
	if err != nil {
		t.Fatalf("newSandbox: %v", err)
	}

	// Dotdot segments that stay inside the root must resolve, and every
	// successful resolution must be the root or a strict descendant.
	inputs := []string{
		"a/../b",
		"a/b/../c/./d",
		"deep/../deep/../deep/file",
		"x/y/z/../../..",
	}
	for _, p := range inputs {
		abs, _, err := sb.resolve(p)
		if err != nil {
			t.Fatalf("resolve(%q): %v", p, err)
		}
		if abs != sb.root && !strings.HasPrefix(abs, sb.root+string(filepath.Separator)) {
			t.Errorf("resolve(%q) = %q leaves root %q", p, abs, sb.root)
		}
	}
}
