package connector

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

type dialer struct{}

// NewDialer returns the default dialer: local hosts get a shell connection,
// everything else is reached over SSH.
func NewDialer() Dialer {
	return &dialer{}
}

func (d *dialer) Dial(ctx context.Context, host *Host) (Connection, error) {
	if host == nil {
		return nil, fmt.Errorf("host cannot be nil for Dial")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "dial %s aborted", host.ID())
	}
	if host.IsLocal() {
		return NewLocalConnection()
	}

	h := host.WithDefaults()
	if err := h.Validate(); err != nil {
		return nil, unreachable(h.ID(), err)
	}
	return NewConnection(sshConfig(h))
}

// sshConfig maps a defaulted host onto the SSH connection parameters.
func sshConfig(h *Host) Config {
	return Config{
		Username:    h.User,
		Password:    h.Password,
		Address:     h.Address,
		Port:        h.Port,
		PrivateKey:  h.PrivateKey,
		KeyFile:     h.PrivateKeyPath,
		AgentSocket: h.AgentSocket,
		Timeout:     h.Timeout,
		Bastion:     h.Bastion,
		BastionPort: h.BastionPort,
		BastionUser: h.BastionUser,
	}
}

var _ Dialer = (*dialer)(nil)
