package hostkey

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGetOrCreatePersistsIdentity(t *testing.T) {
	root := t.TempDir()

	first, err := GetOrCreate(root)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !strings.HasPrefix(first.FingerprintSHA256, "SHA256:") {
		t.Errorf("fingerprint = %q, want SHA256: prefix", first.FingerprintSHA256)
	}
	if !strings.HasPrefix(first.PublicKeyOpenSSH, "ssh-rsa ") {
		t.Errorf("public key = %q, want openssh format", first.PublicKeyOpenSSH)
	}

	// Simulated restart: same files, same fingerprint.
	second, err := GetOrCreate(root)
	if err != nil {
		t.Fatalf("GetOrCreate reload: %v", err)
	}
	if second.FingerprintSHA256 != first.FingerprintSHA256 {
		t.Errorf("fingerprint changed across restart: %q vs %q",
			first.FingerprintSHA256, second.FingerprintSHA256)
	}
	if second.PublicKeyOpenSSH != first.PublicKeyOpenSSH {
		t.Error("public key changed across restart")
	}
}

func TestGetOrCreateRegeneratesAfterDeletion(t *testing.T) {
	root := t.TempDir()

	first, err := GetOrCreate(root)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := os.Remove(first.PrivateKeyPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := os.Remove(first.PublicKeyPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	second, err := GetOrCreate(root)
	if err != nil {
		t.Fatalf("GetOrCreate regenerate: %v", err)
	}
	if second.FingerprintSHA256 == first.FingerprintSHA256 {
		t.Error("regenerated identity kept the old fingerprint")
	}
}

func TestPrivateKeyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes not meaningful on windows")
	}
	root := t.TempDir()

	id, err := GetOrCreate(root)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	info, err := os.Stat(id.PrivateKeyPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("private key mode = %o, want 600", info.Mode().Perm())
	}
}

func TestGetOrCreateUnwritableLocation(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file-not-dir")
	if err := os.WriteFile(root, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := GetOrCreate(root); err == nil {
		t.Fatal("expected error for unusable storage location")
	}
}

func TestGenerateClientKeypair(t *testing.T) {
	kp, err := GenerateClientKeypair()
	if err != nil {
		t.Fatalf("GenerateClientKeypair: %v", err)
	}
	if !strings.Contains(string(kp.PrivateKeyPEM), "PRIVATE KEY") {
		t.Error("private key is not PEM")
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(kp.PublicKeyOpenSSH))
	if err != nil {
		t.Fatalf("public key does not parse: %v", err)
	}
	if pub.Type() != "ssh-rsa" {
		t.Errorf("key type = %q, want ssh-rsa", pub.Type())
	}
}
