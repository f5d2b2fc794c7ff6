package connector

import (
	"context"
	"os"

	"github.com/pkg/errors"
)

// ErrUnreachable is matched by every error that means the target host itself
// could not be used: dial, handshake, session or transport failures.
var ErrUnreachable = errors.New("host unreachable")

// IsUnreachable reports whether err (or anything it wraps) is ErrUnreachable.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

type unreachableError struct {
	host  string
	cause error
}

func unreachable(host string, cause error) error {
	return &unreachableError{host: host, cause: cause}
}

func (e *unreachableError) Error() string {
	return "host " + e.host + " unreachable: " + e.cause.Error()
}

func (e *unreachableError) Unwrap() error {
	return e.cause
}

func (e *unreachableError) Is(target error) bool {
	return target == ErrUnreachable
}

type Executor interface {
	// Exec runs cmd through a shell on the target. A non-zero exit status is
	// reported through exitCode with a nil error.
	Exec(ctx context.Context, cmd string) (stdout []byte, stderr []byte, exitCode int, err error)
}

type FileOperator interface {
	// Upload copies a local file to remotePath on the target, creating parent directories.
	Upload(ctx context.Context, localPath string, remotePath string, mode os.FileMode) error
}

type Connection interface {
	Executor
	FileOperator
	Close() error
}

// Dialer opens connections to hosts.
type Dialer interface {
	Dial(ctx context.Context, host *Host) (Connection, error)
}
