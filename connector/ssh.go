package connector

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/mensylisir/xmsuite/common"
	"github.com/mensylisir/xmsuite/logger"
)

type Config struct {
	Username    string
	Password    string
	Address     string
	Port        int
	PrivateKey  string
	KeyFile     string
	AgentSocket string
	Timeout     time.Duration
	Bastion     string
	BastionPort int
	BastionUser string
}

const socketEnvPrefix = "env:"

// Grace period between SIGINT and a forced session close on cancellation.
const interruptGrace = 250 * time.Millisecond

var _ Connection = (*connection)(nil)

type connection struct {
	mu         sync.Mutex
	sftpclient *sftp.Client
	sshclient  *ssh.Client
	config     Config

	agentSocketConn net.Conn
}

// NewConnection dials cfg.Address (through cfg.Bastion when set) and opens an
// SFTP channel on the same client. Transport failures are reported as
// ErrUnreachable; configuration mistakes are not.
func NewConnection(cfg Config) (Connection, error) {
	var err error
	cfg, err = validateConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate ssh connection parameters")
	}

	authMethods := make([]ssh.AuthMethod, 0)
	conn := &connection{config: cfg}

	if len(cfg.Password) > 0 {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}

	if len(cfg.PrivateKey) > 0 {
		signer, parseErr := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		if parseErr != nil {
			return nil, errors.Wrap(parseErr, "the given SSH key could not be parsed")
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if len(cfg.AgentSocket) > 0 {
		addr := cfg.AgentSocket
		if strings.HasPrefix(cfg.AgentSocket, socketEnvPrefix) {
			envName := strings.TrimPrefix(cfg.AgentSocket, socketEnvPrefix)
			if envAddr := os.Getenv(envName); len(envAddr) > 0 {
				addr = envAddr
			} else {
				logger.Log.Warnf("SSH Agent environment variable %s not found, using original socket string %s", envName, addr)
			}
		}

		var dialErr error
		conn.agentSocketConn, dialErr = net.Dial("unix", addr)
		if dialErr != nil {
			return nil, errors.Wrapf(dialErr, "could not open SSH agent socket %q", addr)
		}

		agentClient := agent.NewClient(conn.agentSocketConn)
		signers, signersErr := agentClient.Signers()
		if signersErr != nil {
			conn.cleanupAgentSocket()
			return nil, errors.Wrap(signersErr, "error when creating signer for SSH agent")
		}
		authMethods = append(authMethods, ssh.PublicKeys(signers...))
	}

	targetHost := cfg.Address
	targetPort := cfg.Port
	effectiveUser := cfg.Username

	if cfg.Bastion != "" {
		targetHost = cfg.Bastion
		targetPort = cfg.BastionPort
		effectiveUser = cfg.BastionUser
	}

	endpoint := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))
	sshClientConfig := &ssh.ClientConfig{
		User:            effectiveUser,
		Timeout:         cfg.Timeout,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	client, err := ssh.Dial("tcp", endpoint, sshClientConfig)
	if err != nil {
		conn.cleanupAgentSocket()
		return nil, unreachable(endpoint, errors.Wrapf(err, "could not establish connection to %s", endpoint))
	}

	if cfg.Bastion != "" {
		endpointBehindBastion := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
		connToTarget, dialErr := client.Dial("tcp", endpointBehindBastion)
		if dialErr != nil {
			_ = client.Close()
			conn.cleanupAgentSocket()
			return nil, unreachable(endpointBehindBastion, errors.Wrap(dialErr, "could not establish connection via bastion"))
		}

		targetSSHConfig := &ssh.ClientConfig{
			User:            cfg.Username,
			Timeout:         cfg.Timeout,
			Auth:            authMethods,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		}
		ncc, chans, reqs, clientConnErr := ssh.NewClientConn(connToTarget, endpointBehindBastion, targetSSHConfig)
		if clientConnErr != nil {
			_ = connToTarget.Close()
			_ = client.Close()
			conn.cleanupAgentSocket()
			return nil, unreachable(endpointBehindBastion, errors.Wrap(clientConnErr, "failed to create SSH client connection via bastion"))
		}
		client = ssh.NewClient(ncc, chans, reqs)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		conn.cleanupAgentSocket()
		return nil, unreachable(endpoint, errors.Wrap(err, "failed to create SFTP client"))
	}

	conn.sshclient = client
	conn.sftpclient = sftpClient
	logger.Log.Debugf("ssh connection established to %s as %s", endpoint, cfg.Username)
	return conn, nil
}

func (c *connection) cleanupAgentSocket() {
	if c.agentSocketConn != nil {
		_ = c.agentSocketConn.Close()
		c.agentSocketConn = nil
	}
}

func validateConfig(cfg Config) (Config, error) {
	if len(cfg.Username) == 0 {
		return cfg, errors.New("no username specified for SSH connection")
	}
	if len(cfg.Address) == 0 {
		return cfg, errors.New("no address specified for SSH connection")
	}
	if len(cfg.Password) == 0 && len(cfg.PrivateKey) == 0 && len(cfg.KeyFile) == 0 && len(cfg.AgentSocket) == 0 {
		return cfg, errors.New("must specify at least one of password, private key, keyfile or agent socket")
	}

	if len(cfg.PrivateKey) == 0 && len(cfg.KeyFile) > 0 {
		content, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return cfg, errors.Wrapf(err, "failed to read keyfile %q", cfg.KeyFile)
		}
		cfg.PrivateKey = string(content)
	}

	if cfg.Port <= 0 {
		cfg.Port = common.DefaultSSHPort
	}
	if cfg.Bastion != "" {
		if cfg.BastionPort <= 0 {
			cfg.BastionPort = common.DefaultSSHPort
		}
		if cfg.BastionUser == "" {
			cfg.BastionUser = cfg.Username
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = common.DefaultConnectTimeout
	}
	return cfg, nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result *multierror.Error
	if c.sftpclient != nil {
		if err := c.sftpclient.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "sftp close error"))
		}
		c.sftpclient = nil
	}
	if c.sshclient != nil {
		if err := c.sshclient.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "ssh close error"))
		}
		c.sshclient = nil
	}
	if c.agentSocketConn != nil {
		if err := c.agentSocketConn.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "agent socket close error"))
		}
		c.agentSocketConn = nil
	}
	return result.ErrorOrNil()
}

func (c *connection) endpoint() string {
	return net.JoinHostPort(c.config.Address, strconv.Itoa(c.config.Port))
}

func (c *connection) newSession(ctx context.Context) (*ssh.Session, error) {
	c.mu.Lock()
	client := c.sshclient
	c.mu.Unlock()

	if client == nil {
		return nil, unreachable(c.endpoint(), errors.New("ssh connection is closed or not initialized"))
	}

	type result struct {
		sess *ssh.Session
		err  error
	}
	sessionDone := make(chan result, 1)
	go func() {
		s, e := client.NewSession()
		sessionDone <- result{sess: s, err: e}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-sessionDone; r.sess != nil {
				_ = r.sess.Close()
			}
		}()
		return nil, errors.Wrap(ctx.Err(), "failed to create ssh session")
	case r := <-sessionDone:
		if r.err != nil {
			return nil, unreachable(c.endpoint(), errors.Wrap(r.err, "failed to create ssh session"))
		}
		return r.sess, nil
	}
}

// Exec runs cmd in a fresh session. stdout and stderr are kept apart; no PTY is requested.
func (c *connection) Exec(ctx context.Context, cmd string) (stdout []byte, stderr []byte, exitCode int, err error) {
	sess, err := c.newSession(ctx)
	if err != nil {
		return nil, nil, -1, err
	}
	defer sess.Close()

	var stdoutBuf, stderrBuf lockedBuffer
	sess.Stdout = &stdoutBuf
	sess.Stderr = &stderrBuf

	if err = sess.Start(strings.TrimSpace(cmd)); err != nil {
		return nil, nil, -1, unreachable(c.endpoint(), errors.Wrap(err, "failed to start command"))
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- sess.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGINT)
		select {
		case <-time.After(interruptGrace):
		case <-waitDone:
		}
		_ = sess.Close()
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, errors.Wrap(ctx.Err(), "command execution cancelled")

	case waitErr := <-waitDone:
		if waitErr == nil {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil
		}
		// ExitMissingError and channel errors mean the transport went away mid-command.
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, unreachable(c.endpoint(), errors.Wrap(waitErr, "command did not report an exit status"))
	}
}

func (c *connection) Upload(ctx context.Context, localPath string, remotePath string, mode os.FileMode) error {
	c.mu.Lock()
	sftpClient := c.sftpclient
	c.mu.Unlock()
	if sftpClient == nil {
		return unreachable(c.endpoint(), errors.New("sftp client is not initialized or connection is closed"))
	}

	srcFile, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open local file %s", localPath)
	}
	defer srcFile.Close()

	if err := ctx.Err(); err != nil {
		return err
	}

	remoteDir := path.Dir(remotePath)
	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		return errors.Wrapf(err, "sftp: failed to create remote directory %s", remoteDir)
	}

	dstFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return errors.Wrapf(err, "sftp: failed to create remote file %s", remotePath)
	}
	defer dstFile.Close()

	if mode == 0 {
		mode = common.FileMode0644
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return errors.Wrapf(err, "sftp copy from %s to %s failed", localPath, remotePath)
	}
	if err := dstFile.Chmod(mode.Perm()); err != nil {
		return errors.Wrapf(err, "sftp: failed to chmod remote file %s", remotePath)
	}
	return nil
}

// EscapeShellArg single-quotes arg for a POSIX shell.
func EscapeShellArg(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", "'\\''") + "'"
}

// lockedBuffer lets the session's copy goroutines and a cancelled Exec read concurrently.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}
