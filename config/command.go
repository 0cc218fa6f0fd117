package config

import (
	"os"
	"path/filepath"
	"strings"
)

// WorkerCommand is the fixed command line of one worker process.
type WorkerCommand struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c WorkerCommand) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

func (s Settings) JDKPath() string {
	return filepath.Join(s.FrameworkPath, "checker", "dist", "jdk8.jar")
}

func (s Settings) CheckerPath() string {
	return filepath.Join(s.FrameworkPath, "checker", "dist", "checker.jar")
}

// WorkerCommand validates the settings and builds the java command line that
// runs the worker with the configured processors.
func (s Settings) WorkerCommand() (WorkerCommand, error) {
	if err := s.Validate(); err != nil {
		return WorkerCommand{}, err
	}

	checkers, err := s.ResolvedCheckers()
	if err != nil {
		return WorkerCommand{}, err
	}

	classpath := []string{s.CheckerPath()}
	if len(s.WorkerJar) != 0 {
		classpath = append(classpath, s.WorkerJar)
	}

	args := []string{
		"-cp", strings.Join(classpath, string(os.PathListSeparator)),
		s.WorkerMain,
		"-processor", strings.Join(checkers, ","),
		"-Xbootclasspath/p:" + s.JDKPath(),
		"-processorpath", s.CheckerPath(),
		"-proc:only",
	}
	args = append(args, s.CommandLineOptions...)

	return WorkerCommand{Path: s.JavaPath, Args: args}, nil
}
