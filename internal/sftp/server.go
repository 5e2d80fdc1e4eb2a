// Package sftp implements the credentialed file-drop protocol endpoint:
// password authentication against the account directory, per-account
// sandboxing, and the SFTP v3 request dispatcher.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dropgate/dropgate/internal/hostkey"
	"github.com/dropgate/dropgate/internal/logging"
	"github.com/dropgate/dropgate/internal/metadata"
	"github.com/dropgate/dropgate/internal/metrics"
	"github.com/dropgate/dropgate/internal/notify"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"
)

// errAuthRejected is the single rejection for every failed authentication:
// unknown user, inactive account, missing hash and wrong password are
// indistinguishable to the client.
var errAuthRejected = errors.New("authentication rejected")

const (
	sftpSubsystem = "sftp"
	authTimeout   = 10 * time.Second
)

// Server accepts SSH connections and serves the SFTP subsystem.
type Server struct {
	accounts  metadata.AccountDirectory
	pipeline  *notify.Pipeline
	sshConfig *ssh.ServerConfig
	listener  net.Listener
}

// NewServer builds a server that proves its identity with the given host
// key and authenticates against the account directory. Password is the only
// auth method offered.
func NewServer(identity *hostkey.Identity, accounts metadata.AccountDirectory, pipeline *notify.Pipeline) *Server {
	s := &Server{
		accounts: accounts,
		pipeline: pipeline,
	}
	s.sshConfig = &ssh.ServerConfig{
		PasswordCallback: s.authenticate,
	}
	s.sshConfig.AddHostKey(identity.Signer)
	return s
}

// authenticate checks password credentials against the account directory.
// Every failure path returns the same error so account existence cannot be
// probed.
func (s *Server) authenticate(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	account, err := s.accounts.FindByUsername(ctx, conn.User())
	if err != nil {
		metrics.RecordAuthAttempt("rejected")
		return nil, errAuthRejected
	}
	if !account.IsActive || account.PasswordHash == "" {
		metrics.RecordAuthAttempt("rejected")
		return nil, errAuthRejected
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), password) != nil {
		metrics.RecordAuthAttempt("rejected")
		return nil, errAuthRejected
	}

	// The sandbox root is provisioned out of band; a session against a
	// missing root fails closed here rather than at first write.
	if info, err := os.Stat(account.RootDir); err != nil || !info.IsDir() {
		logging.Warn("account root missing, rejecting session",
			zap.String("username", account.Username),
			zap.String("root", account.RootDir))
		metrics.RecordAuthAttempt("rejected")
		return nil, errAuthRejected
	}

	metrics.RecordAuthAttempt("ok")
	return &ssh.Permissions{
		Extensions: map[string]string{
			"account-id":   account.ID,
			"account-root": account.RootDir,
		},
	}, nil
}

// ListenAndServe accepts connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = listener

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// handleConn runs the SSH handshake and serves the connection's channels.
// One goroutine per connection; sessions are fully independent.
func (s *Server) handleConn(netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.sshConfig)
	if err != nil {
		// Failed handshakes and rejected auth land here; not an event
		// worth more than debug noise.
		logging.Debug("handshake failed",
			zap.String("remote", netConn.RemoteAddr().String()),
			zap.Error(err))
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	accountID := sshConn.Permissions.Extensions["account-id"]
	accountRoot := sshConn.Permissions.Extensions["account-root"]
	logger := logging.L().With(
		zap.String("account_id", accountID),
		zap.String("username", sshConn.User()),
		zap.String("remote", sshConn.RemoteAddr().String()),
	)

	metrics.SessionStarted()
	defer metrics.SessionEnded()
	logger.Info("session started")

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			logger.Error("channel accept failed", zap.Error(err))
			continue
		}
		go s.serveChannel(channel, requests, accountID, accountRoot, logger)
	}

	logger.Info("session closed")
}

// serveChannel waits for the sftp subsystem request on a session channel and
// runs the dispatcher over it.
func (s *Server) serveChannel(channel ssh.Channel, requests <-chan *ssh.Request, accountID, accountRoot string, logger *zap.Logger) {
	defer channel.Close()

	for req := range requests {
		if req.Type != "subsystem" || !isSFTPSubsystem(req.Payload) {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)

		sess, err := newSession(accountID, accountRoot, s.pipeline, logger)
		if err != nil {
			logger.Error("session setup failed", zap.Error(err))
			return
		}
		go ssh.DiscardRequests(requests)
		if err := sess.Serve(channel); err != nil {
			logger.Warn("sftp stream ended", zap.Error(err))
		}
		return
	}
}

func isSFTPSubsystem(payload []byte) bool {
	var msg struct {
		Name string
	}
	if err := ssh.Unmarshal(payload, &msg); err != nil {
		return false
	}
	return msg.Name == sftpSubsystem
}
