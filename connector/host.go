package connector

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mensylisir/xmsuite/common"
)

// Host describes the machine a suite runs its steps on.
type Host struct {
	Name           string        `yaml:"name,omitempty" json:"name,omitempty"`
	Address        string        `yaml:"address,omitempty" json:"address,omitempty"`
	Port           int           `yaml:"port,omitempty" json:"port,omitempty"`
	User           string        `yaml:"user,omitempty" json:"user,omitempty"`
	Password       string        `yaml:"password,omitempty" json:"-"`
	PrivateKey     string        `yaml:"privateKey,omitempty" json:"-"`
	PrivateKeyPath string        `yaml:"privateKeyPath,omitempty" json:"privateKeyPath,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// AgentSocket is a unix socket path, or "env:NAME" to read it from $NAME.
	AgentSocket    string        `yaml:"agentSocket,omitempty" json:"agentSocket,omitempty"`
	Bastion        string        `yaml:"bastion,omitempty" json:"bastion,omitempty"`
	BastionPort    int           `yaml:"bastionPort,omitempty" json:"bastionPort,omitempty"`
	BastionUser    string        `yaml:"bastionUser,omitempty" json:"bastionUser,omitempty"`
}

// LocalHost returns the host used when a suite targets the machine xmsuite runs on.
func LocalHost() *Host {
	return &Host{Name: common.LocalHostname, Address: common.LocalHostname}
}

// WithDefaults returns a copy with ports, bastion user and timeout filled in.
func (h Host) WithDefaults() *Host {
	if h.Port == 0 {
		h.Port = common.DefaultSSHPort
	}
	if strings.TrimSpace(h.Bastion) != "" {
		if h.BastionPort == 0 {
			h.BastionPort = common.DefaultSSHPort
		}
		if strings.TrimSpace(h.BastionUser) == "" {
			h.BastionUser = h.User
		}
	}
	if h.Timeout == 0 {
		h.Timeout = common.DefaultConnectTimeout
	}
	if strings.TrimSpace(h.Name) == "" {
		h.Name = strings.TrimSpace(h.Address)
	}
	return &h
}

// IsLocal reports whether steps for this host run without SSH.
func (h *Host) IsLocal() bool {
	switch strings.TrimSpace(h.Address) {
	case "", common.LocalHostname, "127.0.0.1", "::1":
		return h.User == "" && h.Password == "" && h.PrivateKey == "" && h.PrivateKeyPath == "" &&
			h.AgentSocket == "" && h.Bastion == ""
	default:
		return false
	}
}

func (h *Host) Validate() error {
	if h.IsLocal() {
		return nil
	}
	if strings.TrimSpace(h.Address) == "" {
		return fmt.Errorf("host address cannot be empty for host '%s'", h.Name)
	}
	if h.Port < 0 || h.Port > 65535 {
		return fmt.Errorf("invalid port number %d for host '%s'", h.Port, h.Name)
	}
	if h.BastionPort < 0 || h.BastionPort > 65535 {
		return fmt.Errorf("invalid bastion port number %d for host '%s'", h.BastionPort, h.Name)
	}
	if strings.TrimSpace(h.User) == "" {
		return fmt.Errorf("user cannot be empty for host '%s'", h.ID())
	}
	hasPassword := strings.TrimSpace(h.Password) != ""
	hasPrivateKey := strings.TrimSpace(h.PrivateKey) != ""
	hasPrivateKeyPath := strings.TrimSpace(h.PrivateKeyPath) != ""
	hasAgent := strings.TrimSpace(h.AgentSocket) != ""
	if !hasPassword && !hasPrivateKey && !hasPrivateKeyPath && !hasAgent {
		return fmt.Errorf("authentication method (password, privateKey, privateKeyPath or agentSocket) must be provided for host '%s'", h.ID())
	}
	return nil
}

func (h *Host) ID() string {
	if name := strings.TrimSpace(h.Name); name != "" {
		return name
	}
	if addr := strings.TrimSpace(h.Address); addr != "" {
		port := h.Port
		if port == 0 {
			port = common.DefaultSSHPort
		}
		return net.JoinHostPort(addr, strconv.Itoa(port))
	}
	return common.LocalHostname
}
