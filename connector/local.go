package connector

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/otiai10/copy"
	"github.com/pkg/errors"

	"github.com/mensylisir/xmsuite/common"
)

// Shell used for local commands.
const localShell = "/bin/bash"

// How long Exec waits for the output pipes to drain after the process is killed.
const localWaitDelay = 2 * time.Second

type localConnection struct{}

// NewLocalConnection returns a connection that runs commands on this machine.
func NewLocalConnection() (Connection, error) {
	if _, err := os.Stat(localShell); err != nil {
		return nil, unreachable(common.LocalHostname, errors.Wrapf(err, "local shell %s not available", localShell))
	}
	return &localConnection{}, nil
}

func (l *localConnection) Exec(ctx context.Context, cmd string) ([]byte, []byte, int, error) {
	c := exec.CommandContext(ctx, localShell, "-c", cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = localWaitDelay
	setProcessGroup(c)

	err := c.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, errors.Wrap(ctxErr, "command execution cancelled")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	return stdout.Bytes(), stderr.Bytes(), -1, unreachable(common.LocalHostname, errors.Wrap(err, "failed to run local command"))
}

func (l *localConnection) Upload(ctx context.Context, localPath string, remotePath string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(remotePath), common.FileMode0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", remotePath)
	}
	if err := copy.Copy(localPath, remotePath); err != nil {
		return errors.Wrapf(err, "failed to copy %s to %s", localPath, remotePath)
	}
	if mode == 0 {
		mode = common.FileMode0644
	}
	return errors.Wrapf(os.Chmod(remotePath, mode.Perm()), "failed to chmod %s", remotePath)
}

func (l *localConnection) Close() error {
	return nil
}

var _ Connection = (*localConnection)(nil)
