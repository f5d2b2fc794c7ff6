package config

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var documentValidator = func() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("stepref", validateStepRef)
	_ = v.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
		return envNamePattern.MatchString(fl.Field().String())
	})
	return v
}()

// validateStepRef accepts non-blank, path-like references without control characters.
func validateStepRef(fl validator.FieldLevel) bool {
	ref := fl.Field().String()
	if strings.TrimSpace(ref) == "" {
		return false
	}
	for _, r := range ref {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func validate(doc *document) error {
	err := documentValidator.Struct(doc)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var result *multierror.Error
	for _, fe := range verrs {
		result = multierror.Append(result, fmt.Errorf("%s: %s", optionPath(fe), describe(fe)))
	}
	return result.ErrorOrNil()
}

func optionPath(fe validator.FieldError) string {
	// Namespace looks like document.PreSuite[1]; report it with option names.
	ns := strings.TrimPrefix(fe.Namespace(), "document.")
	for field, option := range map[string]string{
		"LogLevel":        OptionLogLevel,
		"Helper":          OptionHelper,
		"PreSuite":        OptionPreSuite,
		"PostSuite":       OptionPostSuite,
		"Tests":           OptionTests,
		"StepTimeout":     OptionStepTimeout,
		"TeardownTimeout": OptionTeardownTimeout,
		"Env":             OptionEnv,
		"Host":            OptionHost,
	} {
		if ns == field || strings.HasPrefix(ns, field+"[") || strings.HasPrefix(ns, field+".") {
			return option + strings.TrimPrefix(ns, field)
		}
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "stepref":
		return fmt.Sprintf("invalid step reference %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("%q must be one of [%s]", fe.Value(), fe.Param())
	case "envname":
		return fmt.Sprintf("%q is not a valid environment variable name", fe.Value())
	case "required":
		return "is required"
	case "gte", "lte":
		return fmt.Sprintf("%v is out of range", fe.Value())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
