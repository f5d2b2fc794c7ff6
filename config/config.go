package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/mensylisir/xmsuite/common"
	"github.com/mensylisir/xmsuite/connector"
)

// Option names with a fixed meaning. Every other scalar option is a service identifier.
const (
	OptionType            = "type"
	OptionLogLevel        = "log_level"
	OptionHelper          = "helper"
	OptionPreSuite        = "pre_suite"
	OptionPostSuite       = "post_suite"
	OptionTests           = "tests"
	OptionStepTimeout     = "step_timeout"
	OptionTeardownTimeout = "teardown_timeout"
	OptionWorkDir         = "work_dir"
	OptionEnv             = "env"
	OptionHost            = "host"
)

// document is the decoded form of the option mapping.
type document struct {
	Type            string            `option:"type"`
	LogLevel        string            `option:"log_level" validate:"oneof=quiet normal verbose"`
	Helper          string            `option:"helper" validate:"omitempty,stepref"`
	PreSuite        []string          `option:"pre_suite" validate:"dive,stepref"`
	PostSuite       []string          `option:"post_suite" validate:"dive,stepref"`
	Tests           []string          `option:"tests" validate:"dive,stepref"`
	StepTimeout     time.Duration     `option:"step_timeout" validate:"gte=0"`
	TeardownTimeout time.Duration     `option:"teardown_timeout" validate:"gte=0"`
	WorkDir         string            `option:"work_dir"`
	Env             map[string]string `option:"env" validate:"dive,keys,envname,endkeys"`
	Host            *hostDocument     `option:"host"`
}

type hostDocument struct {
	Name           string        `option:"name"`
	Address        string        `option:"address" validate:"required"`
	Port           int           `option:"port" validate:"gte=0,lte=65535"`
	User           string        `option:"user"`
	Password       string        `option:"password"`
	PrivateKey     string        `option:"private_key"`
	PrivateKeyPath string        `option:"private_key_path"`
	Timeout        time.Duration `option:"timeout" validate:"gte=0"`
	AgentSocket    string        `option:"agent_socket"`
	Bastion        string        `option:"bastion"`
	BastionPort    int           `option:"bastion_port" validate:"gte=0,lte=65535"`
	BastionUser    string        `option:"bastion_user"`
}

// Configuration is the read-only option record a suite run is driven by.
// Accessors hand out copies; use the With* methods to derive a modified value.
type Configuration struct {
	doc      document
	services map[string]string
	source   string
}

// New builds a Configuration from a flat option mapping.
func New(options map[string]interface{}) (*Configuration, error) {
	return newConfiguration(options, "")
}

func newConfiguration(options map[string]interface{}, source string) (*Configuration, error) {
	if err := checkUniqueKeys(options); err != nil {
		return nil, err
	}

	var doc document
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDuration,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		Metadata:         &md,
		Result:           &doc,
		TagName:          "option",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create option decoder")
	}
	if err := decoder.Decode(options); err != nil {
		return nil, errors.Wrap(err, "failed to decode options")
	}

	services, err := collectServices(options, md.Unused)
	if err != nil {
		return nil, err
	}

	if err := applyDefaults(&doc); err != nil {
		return nil, err
	}
	if err := validate(&doc); err != nil {
		return nil, err
	}
	return &Configuration{doc: doc, services: services, source: source}, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDuration reads a bare number given for a duration option as seconds.
// Strings go through time.ParseDuration.
func secondsToDuration(_ reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case uint64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

func checkUniqueKeys(options map[string]interface{}) error {
	seen := make(map[string]string, len(options))
	for key := range options {
		if strings.TrimSpace(key) == "" {
			return errors.New("option names cannot be empty")
		}
		folded := strings.ToLower(key)
		if other, ok := seen[folded]; ok {
			return errors.Errorf("option %q is defined more than once (also as %q)", key, other)
		}
		seen[folded] = key
	}
	return nil
}

// collectServices turns every option without a fixed meaning into a service
// identifier. Only scalar values qualify.
func collectServices(options map[string]interface{}, unused []string) (map[string]string, error) {
	services := make(map[string]string, len(unused))
	for _, key := range unused {
		value, topLevel := options[key]
		if !topLevel {
			return nil, errors.Errorf("unknown option %q", key)
		}
		switch v := value.(type) {
		case string, bool, int, int64, uint64, float64:
			services[key] = fmt.Sprint(v)
		case nil:
			services[key] = ""
		default:
			return nil, errors.Errorf("option %q: service identifiers must be scalar values, got %T", key, value)
		}
	}
	return services, nil
}

func (c *Configuration) Type() string {
	return c.doc.Type
}

// LogLevel is one of quiet, normal or verbose.
func (c *Configuration) LogLevel() string {
	return c.doc.LogLevel
}

func (c *Configuration) Helper() string {
	return c.doc.Helper
}

func (c *Configuration) PreSuite() []string {
	return copyStrings(c.doc.PreSuite)
}

func (c *Configuration) PostSuite() []string {
	return copyStrings(c.doc.PostSuite)
}

// Tests lists the scripts the script-driven suite body runs.
func (c *Configuration) Tests() []string {
	return copyStrings(c.doc.Tests)
}

func (c *Configuration) StepTimeout() time.Duration {
	return c.doc.StepTimeout
}

func (c *Configuration) TeardownTimeout() time.Duration {
	return c.doc.TeardownTimeout
}

func (c *Configuration) WorkDir() string {
	return c.doc.WorkDir
}

// Source is the file the configuration was loaded from, empty for New.
func (c *Configuration) Source() string {
	return c.source
}

// Name identifies the configuration in logs and reports.
func (c *Configuration) Name() string {
	if c.source == "" {
		return c.doc.Type
	}
	return strings.TrimSuffix(filepath.Base(c.source), filepath.Ext(c.source))
}

func (c *Configuration) Services() map[string]string {
	return copyMap(c.services)
}

// ServiceKeys returns the service identifier names in sorted order.
func (c *Configuration) ServiceKeys() []string {
	keys := make([]string, 0, len(c.services))
	for k := range c.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Configuration) Env() map[string]string {
	return copyMap(c.doc.Env)
}

// Host returns the configured target, or the local host when none is set.
func (c *Configuration) Host() *connector.Host {
	h := c.doc.Host
	if h == nil {
		return connector.LocalHost()
	}
	return &connector.Host{
		Name:           h.Name,
		Address:        h.Address,
		Port:           h.Port,
		User:           h.User,
		Password:       h.Password,
		PrivateKey:     h.PrivateKey,
		PrivateKeyPath: h.PrivateKeyPath,
		Timeout:        h.Timeout,
		AgentSocket:    h.AgentSocket,
		Bastion:        h.Bastion,
		BastionPort:    h.BastionPort,
		BastionUser:    h.BastionUser,
	}
}

// WithLogLevel returns a copy using level.
func (c *Configuration) WithLogLevel(level string) (*Configuration, error) {
	cp := c.clone()
	cp.doc.LogLevel = level
	if err := validate(&cp.doc); err != nil {
		return nil, err
	}
	return cp, nil
}

// WithTimeouts returns a copy with the non-zero timeouts replaced.
func (c *Configuration) WithTimeouts(step, teardown time.Duration) (*Configuration, error) {
	cp := c.clone()
	if step != 0 {
		cp.doc.StepTimeout = step
	}
	if teardown != 0 {
		cp.doc.TeardownTimeout = teardown
	}
	if err := validate(&cp.doc); err != nil {
		return nil, err
	}
	return cp, nil
}

// WithWorkDir returns a copy using dir as the remote working directory.
func (c *Configuration) WithWorkDir(dir string) *Configuration {
	cp := c.clone()
	if dir != "" {
		cp.doc.WorkDir = dir
	}
	return cp
}

func (c *Configuration) clone() *Configuration {
	doc := c.doc
	doc.PreSuite = copyStrings(c.doc.PreSuite)
	doc.PostSuite = copyStrings(c.doc.PostSuite)
	doc.Tests = copyStrings(c.doc.Tests)
	doc.Env = copyMap(c.doc.Env)
	if c.doc.Host != nil {
		h := *c.doc.Host
		doc.Host = &h
	}
	return &Configuration{doc: doc, services: copyMap(c.services), source: c.source}
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func defaultWorkDir(suiteType string) string {
	return filepath.Join(common.GetTmpDir(), suiteType)
}
