package config

import (
	"github.com/imdario/mergo"
	"github.com/pkg/errors"

	"github.com/mensylisir/xmsuite/common"
)

const (
	DefaultType     = "default"
	DefaultLogLevel = "normal"
)

// applyDefaults fills every zero-valued option of doc.
func applyDefaults(doc *document) error {
	defaults := document{
		Type:            DefaultType,
		LogLevel:        DefaultLogLevel,
		StepTimeout:     common.DefaultStepTimeout,
		TeardownTimeout: common.DefaultTeardownBudget,
	}
	if err := mergo.Merge(doc, defaults); err != nil {
		return errors.Wrap(err, "failed to apply option defaults")
	}
	if doc.WorkDir == "" {
		doc.WorkDir = defaultWorkDir(doc.Type)
	}
	if doc.Host != nil {
		hostDefaults := hostDocument{
			Port:    common.DefaultSSHPort,
			Timeout: common.DefaultConnectTimeout,
		}
		if err := mergo.Merge(doc.Host, hostDefaults); err != nil {
			return errors.Wrap(err, "failed to apply host defaults")
		}
	}
	return nil
}
