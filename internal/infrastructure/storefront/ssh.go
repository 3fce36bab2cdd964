package storefront

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig holds the store host connection settings.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	KeyFile        string
	ConnectTimeout time.Duration
}

// SSHRunner executes commands over one SSH connection, one session per
// command.
type SSHRunner struct {
	client *ssh.Client
}

// DialSSH opens the connection. Key-file auth is preferred when both a key
// and a password are configured; the password stays as a fallback method.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSHRunner, error) {
	auth := make([]ssh.AuthMethod, 0, 2)
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh auth method configured")
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	clientConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: auth,
		// The store host is operator provisioned; host key pinning is not
		// part of the deployment model.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &SSHRunner{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// Run executes one command and returns its stdout. Context cancellation
// kills the remote process.
func (r *SSHRunner) Run(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	session, err := r.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("remote command failed: %w (stderr: %s)",
				err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), nil
	}
}

// Close closes the underlying connection.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}

var _ CommandRunner = (*SSHRunner)(nil)
