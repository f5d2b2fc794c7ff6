package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmsuite/common"
	"github.com/mensylisir/xmsuite/config"
	"github.com/mensylisir/xmsuite/connector"
	"github.com/mensylisir/xmsuite/logger"
)

// Environment is the execution context steps run against: one target host,
// a working directory on it and the variables every step sees. It is handed
// to the runner by reference; exclusive use follows from sequential phases.
type Environment struct {
	name    string
	host    *connector.Host
	workDir string
	env     map[string]string
	helper  string
	dialer  connector.Dialer

	connLock sync.Mutex
	conn     connector.Connection
}

// Config for creating a new Environment.
type Config struct {
	Name    string
	Host    *connector.Host
	WorkDir string
	Env     map[string]string
	Helper  string
	Dialer  connector.Dialer
}

// NewEnvironment creates an Environment; the host is dialed on first use.
func NewEnvironment(cfg Config) *Environment {
	if cfg.Host == nil {
		cfg.Host = connector.LocalHost()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = connector.NewDialer()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(common.GetTmpDir(), cfg.Name)
	}
	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		env[k] = v
	}
	host := *cfg.Host
	return &Environment{
		name:    cfg.Name,
		host:    &host,
		workDir: cfg.WorkDir,
		env:     env,
		helper:  cfg.Helper,
		dialer:  cfg.Dialer,
	}
}

var serviceKeyPattern = regexp.MustCompile(`[^A-Za-z0-9]+`)

// ServiceEnvName returns the variable a service identifier is exported as,
// e.g. puppetserver-confdir becomes XMSUITE_SERVICE_PUPPETSERVER_CONFDIR.
func ServiceEnvName(key string) string {
	normalized := strings.Trim(serviceKeyPattern.ReplaceAllString(key, "_"), "_")
	return fmt.Sprintf(common.EnvServiceTpl, strings.ToUpper(normalized))
}

// FromConfiguration builds the Environment for one suite run. host may be nil,
// in which case the configuration's host (or localhost) is used.
func FromConfiguration(cfg *config.Configuration, host *connector.Host, dialer connector.Dialer) *Environment {
	env := cfg.Env()
	for key, value := range cfg.Services() {
		env[ServiceEnvName(key)] = value
	}
	env[common.EnvSuiteType] = cfg.Type()
	if cfg.Helper() != "" {
		env[common.EnvHelper] = cfg.Helper()
	}
	if host == nil {
		host = cfg.Host()
	}
	return NewEnvironment(Config{
		Name:    cfg.Type(),
		Host:    host,
		WorkDir: cfg.WorkDir(),
		Env:     env,
		Helper:  cfg.Helper(),
		Dialer:  dialer,
	})
}

func (e *Environment) Name() string {
	return e.name
}

func (e *Environment) Host() connector.Host {
	return *e.host
}

func (e *Environment) WorkDir() string {
	return e.workDir
}

func (e *Environment) Helper() string {
	return e.helper
}

// Env returns a copy of the variables exported to every step.
func (e *Environment) Env() map[string]string {
	envCopy := make(map[string]string, len(e.env))
	for k, v := range e.env {
		envCopy[k] = v
	}
	return envCopy
}

// Connection returns the cached connection, dialing the host if there is none.
// A failed dial is not remembered, so a later caller (teardown) dials again.
func (e *Environment) Connection(ctx context.Context) (connector.Connection, error) {
	e.connLock.Lock()
	defer e.connLock.Unlock()

	if e.conn != nil {
		return e.conn, nil
	}
	conn, err := e.dialer.Dial(ctx, e.host)
	if err != nil {
		logger.Log.ErrorfNode(e.host.ID(), err, "Failed to connect")
		return nil, errors.Wrapf(err, "runtime: failed to connect to host %s", e.host.ID())
	}
	logger.Log.InfofNode(e.host.ID(), "Connected, work dir %s", e.workDir)
	e.conn = conn
	return conn, nil
}

// Discard closes and forgets the cached connection after a transport failure.
func (e *Environment) Discard() {
	e.connLock.Lock()
	conn := e.conn
	e.conn = nil
	e.connLock.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Log.Debugf("runtime: closing broken connection to %s: %v", e.host.ID(), err)
		}
	}
}

func (e *Environment) Close() error {
	e.connLock.Lock()
	defer e.connLock.Unlock()

	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return errors.Wrapf(err, "runtime: failed to close connection to %s", e.host.ID())
}
