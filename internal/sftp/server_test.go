package sftp

import (
	"net"
	"testing"

	"github.com/dropgate/dropgate/internal/hostkey"
	"github.com/dropgate/dropgate/internal/metadata"
	"golang.org/x/crypto/bcrypt"
)

type fakeConnMeta struct {
	user string
}

func (f fakeConnMeta) User() string          { return f.user }
func (f fakeConnMeta) SessionID() []byte     { return []byte("sess") }
func (f fakeConnMeta) ClientVersion() []byte { return []byte("SSH-2.0-test") }
func (f fakeConnMeta) ServerVersion() []byte { return []byte("SSH-2.0-dropgate") }
func (f fakeConnMeta) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}
func (f fakeConnMeta) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2222}
}

func newAuthServer(t *testing.T) (*Server, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	root := t.TempDir()

	dir := &fakeDirectory{accounts: map[string]*metadata.Account{
		"acct-1": {ID: "acct-1", Username: "alice", PasswordHash: string(hash), RootDir: root, IsActive: true},
		"acct-2": {ID: "acct-2", Username: "bob", PasswordHash: string(hash), RootDir: root, IsActive: false},
		"acct-3": {ID: "acct-3", Username: "carol", PasswordHash: "", RootDir: root, IsActive: true},
		"acct-4": {ID: "acct-4", Username: "dave", PasswordHash: string(hash), RootDir: root + "/missing", IsActive: true},
	}}

	identity, err := hostkey.GetOrCreate(t.TempDir())
	if err != nil {
		t.Fatalf("hostkey: %v", err)
	}
	return NewServer(identity, dir, nil), root
}

func TestAuthenticateSuccess(t *testing.T) {
	srv, root := newAuthServer(t)

	perms, err := srv.authenticate(fakeConnMeta{user: "alice"}, []byte("secret"))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if perms.Extensions["account-id"] != "acct-1" {
		t.Errorf("account-id = %q", perms.Extensions["account-id"])
	}
	if perms.Extensions["account-root"] != root {
		t.Errorf("account-root = %q", perms.Extensions["account-root"])
	}
}

func TestAuthenticateRejectionsIndistinguishable(t *testing.T) {
	srv, _ := newAuthServer(t)

	cases := []struct {
		name     string
		user     string
		password string
	}{
		{"wrong password", "alice", "nope"},
		{"unknown user", "mallory", "secret"},
		{"inactive account", "bob", "secret"},
		{"missing hash", "carol", "secret"},
		{"missing root dir", "dave", "secret"},
	}
	for _, tc := range cases {
		perms, err := srv.authenticate(fakeConnMeta{user: tc.user}, []byte(tc.password))
		if perms != nil {
			t.Errorf("%s: got permissions", tc.name)
		}
		// Every rejection is the same error value, so callers cannot
		// leak which condition failed.
		if err != errAuthRejected {
			t.Errorf("%s: err = %v, want errAuthRejected", tc.name, err)
		}
	}
}
