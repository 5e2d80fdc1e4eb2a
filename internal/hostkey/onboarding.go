package hostkey

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	onboardingDirName = "onboarding"
	connectionName    = "connection_info.txt"
	clientPrivName    = "client_key.pem"
	clientPubName     = "client_key.pub"
)

// OnboardingMaterial points at the connection document handed to an
// account's operator, plus the sample client keypair when one was written.
type OnboardingMaterial struct {
	ConnectionInfoPath string
	ClientKeyPath      string
	ClientPubPath      string
}

// WriteOnboarding renders the connection document under
// <storageRoot>/host/onboarding: the advertised endpoint and the host key
// fingerprint clients should pin. With includeKeypair set it also generates
// a sample client keypair on first run; an existing keypair is never
// replaced, since the operator may have distributed it already.
func WriteOnboarding(storageRoot, host string, port int, id *Identity, includeKeypair bool) (*OnboardingMaterial, error) {
	dir := filepath.Join(storageRoot, hostDirName, onboardingDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("onboarding dir %s: %w", dir, err)
	}

	m := &OnboardingMaterial{
		ConnectionInfoPath: filepath.Join(dir, connectionName),
	}

	info := fmt.Sprintf(
		"SFTP endpoint\n"+
			"  host:        %s\n"+
			"  port:        %d\n"+
			"  auth:        password\n"+
			"  fingerprint: %s\n"+
			"  host key:    %s\n",
		host, port, id.FingerprintSHA256, id.PublicKeyOpenSSH)
	if err := os.WriteFile(m.ConnectionInfoPath, []byte(info), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", m.ConnectionInfoPath, err)
	}

	if !includeKeypair {
		return m, nil
	}

	m.ClientKeyPath = filepath.Join(dir, clientPrivName)
	m.ClientPubPath = filepath.Join(dir, clientPubName)
	if _, err := os.Stat(m.ClientKeyPath); err == nil {
		return m, nil
	}

	kp, err := GenerateClientKeypair()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(m.ClientKeyPath, kp.PrivateKeyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", m.ClientKeyPath, err)
	}
	if err := os.WriteFile(m.ClientPubPath, []byte(kp.PublicKeyOpenSSH+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", m.ClientPubPath, err)
	}
	return m, nil
}
