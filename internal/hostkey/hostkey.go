// Package hostkey manages the server's persistent host identity: an RSA key
// pair stored on disk and its SHA-256 fingerprint. Clients pin the
// fingerprint, so the pair must survive restarts unchanged.
package hostkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	hostDirName    = "host"
	privateKeyName = "server_host_key.pem"
	publicKeyName  = "server_host_key.pub"

	rsaBits = 2048
)

// Identity is the server's host key material.
type Identity struct {
	Signer            ssh.Signer
	PrivateKeyPEM     []byte
	PublicKeyOpenSSH  string
	FingerprintSHA256 string
	PrivateKeyPath    string
	PublicKeyPath     string
}

// GetOrCreate loads the host key pair from <storageRoot>/host, generating and
// persisting a fresh RSA-2048 pair on first run. The fingerprint is stable
// for as long as the persisted files are untouched.
func GetOrCreate(storageRoot string) (*Identity, error) {
	hostDir := filepath.Join(storageRoot, hostDirName)
	privPath := filepath.Join(hostDir, privateKeyName)
	pubPath := filepath.Join(hostDir, publicKeyName)

	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return nil, fmt.Errorf("host key dir %s: %w", hostDir, err)
	}

	if _, err := os.Stat(privPath); err == nil {
		return load(privPath, pubPath)
	}

	return generate(privPath, pubPath)
}

func load(privPath, pubPath string) (*Identity, error) {
	pemBytes, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("read host key %s: %w", privPath, err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse host key %s: %w", privPath, err)
	}
	return identityFrom(signer, pemBytes, privPath, pubPath)
}

func generate(privPath, pubPath string) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("host key signer: %w", err)
	}

	id, err := identityFrom(signer, pemBytes, privPath, pubPath)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(privPath, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write host key %s: %w", privPath, err)
	}
	if err := os.WriteFile(pubPath, []byte(id.PublicKeyOpenSSH+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write host public key %s: %w", pubPath, err)
	}
	return id, nil
}

func identityFrom(signer ssh.Signer, pemBytes []byte, privPath, pubPath string) (*Identity, error) {
	pub := signer.PublicKey()
	authorized := ssh.MarshalAuthorizedKey(pub)
	// MarshalAuthorizedKey appends a newline; keep the stored string bare.
	openssh := string(authorized[:len(authorized)-1])

	return &Identity{
		Signer:            signer,
		PrivateKeyPEM:     pemBytes,
		PublicKeyOpenSSH:  openssh,
		FingerprintSHA256: ssh.FingerprintSHA256(pub),
		PrivateKeyPath:    privPath,
		PublicKeyPath:     pubPath,
	}, nil
}

// ClientKeypair is generated onboarding material for one account.
type ClientKeypair struct {
	PrivateKeyPEM    []byte
	PublicKeyOpenSSH string
}

// GenerateClientKeypair creates a fresh RSA-2048 pair for inclusion in an
// account's connection bundle. The private key is PKCS#8 PEM.
func GenerateClientKeypair() (*ClientKeypair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("generate client key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal client key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("client public key: %w", err)
	}
	authorized := ssh.MarshalAuthorizedKey(pub)

	return &ClientKeypair{
		PrivateKeyPEM:    pemBytes,
		PublicKeyOpenSSH: string(authorized[:len(authorized)-1]),
	}, nil
}
