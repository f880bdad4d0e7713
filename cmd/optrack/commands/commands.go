package commands

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/salerhq/optrack/internal/conventions"
	"github.com/salerhq/optrack/internal/log"
)

const (
	// LoggerTypeDefault selects the human-readable text logger.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON selects the JSON line logger.
	LoggerTypeJSON = "json"
)

// Command is a single optrack subcommand. main registers every Command on the
// kingpin app and runs the one that parsed.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand holds the global flags and shared instances every subcommand
// receives.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand registers the global flags on the app.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory for the error archive and scenario file.").Envar("OPTRACK_DATA_DIR").Default(defaultDataDir).StringVar(&c.DataDir)

	return c
}

// resolveArchivePath picks the error archive location: an explicit override
// wins, otherwise the conventional file under the data dir.
func resolveArchivePath(dataDir, override string) string {
	if override != "" {
		return override
	}
	return conventions.ArchivePath(dataDir)
}

// resolveScenarioPath picks the scenario file: an explicit override wins,
// then the conventional file under the data dir when it exists. Empty means
// the built-in scenario.
func resolveScenarioPath(dataDir, override string) string {
	if override != "" {
		return override
	}

	conventional := conventions.ScenarioPath(dataDir)
	if _, err := os.Stat(conventional); err == nil {
		return conventional
	}

	return ""
}
