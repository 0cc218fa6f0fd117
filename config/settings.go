package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SectionKey is the key under which editors send the server settings in
// workspace/didChangeConfiguration.
const SectionKey = "checker-framework"

const (
	DefaultJavaPath   = "java"
	DefaultWorkerMain = "org.checkerframework.languageserver.CheckerWorker"
)

type Settings struct {
	FrameworkPath      string   `json:"frameworkPath,omitempty" yaml:"frameworkPath,omitempty" toml:"frameworkPath,omitempty" validate:"required"`
	Checkers           []string `json:"checkers,omitempty" yaml:"checkers,omitempty" toml:"checkers,omitempty" validate:"required,min=1,dive,required,checker"`
	CommandLineOptions []string `json:"commandLineOptions,omitempty" yaml:"commandLineOptions,omitempty" toml:"commandLineOptions,omitempty"`
	JavaPath           string   `json:"javaPath,omitempty" yaml:"javaPath,omitempty" toml:"javaPath,omitempty" validate:"required"`
	WorkerJar          string   `json:"workerJar,omitempty" yaml:"workerJar,omitempty" toml:"workerJar,omitempty"`
	WorkerMain         string   `json:"workerMain,omitempty" yaml:"workerMain,omitempty" toml:"workerMain,omitempty" validate:"required"`
}

func Default() Settings {
	return Settings{
		JavaPath:   DefaultJavaPath,
		WorkerMain: DefaultWorkerMain,
	}
}

// Merge returns s overlaid with every non-empty field of other.
func (s Settings) Merge(other Settings) Settings {
	if len(other.FrameworkPath) != 0 {
		s.FrameworkPath = other.FrameworkPath
	}
	if other.Checkers != nil {
		s.Checkers = append([]string(nil), other.Checkers...)
	}
	if other.CommandLineOptions != nil {
		s.CommandLineOptions = append([]string(nil), other.CommandLineOptions...)
	}
	if len(other.JavaPath) != 0 {
		s.JavaPath = other.JavaPath
	}
	if len(other.WorkerJar) != 0 {
		s.WorkerJar = other.WorkerJar
	}
	if len(other.WorkerMain) != 0 {
		s.WorkerMain = other.WorkerMain
	}
	return s
}

var settingsValidate *validator.Validate

func init() {
	settingsValidate = validator.New()
	_ = settingsValidate.RegisterValidation("checker", validateChecker)
}

func validateChecker(fl validator.FieldLevel) bool {
	_, err := ResolveChecker(fl.Field().String())
	return err == nil
}

// Validate reports every invalid field in one error.
func (s Settings) Validate() error {
	err := settingsValidate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "checker":
			_, cerr := ResolveChecker(fmt.Sprint(fe.Value()))
			msgs = append(msgs, cerr.Error())
		case "required", "min":
			msgs = append(msgs, fmt.Sprintf("%s is required", fieldName(fe)))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q validation", fieldName(fe), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if len(name) == 0 {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// ResolvedCheckers expands every checker alias to its class name.
func (s Settings) ResolvedCheckers() ([]string, error) {
	resolved := make([]string, 0, len(s.Checkers))
	for _, c := range s.Checkers {
		name, err := ResolveChecker(c)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, name)
	}
	return resolved, nil
}
