package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/salerhq/optrack/cmd/optrack/commands"
	"github.com/salerhq/optrack/internal/log"
	loglogrus "github.com/salerhq/optrack/internal/log/logrus"
)

// Version is injected at build time via ldflags.
var Version = "dev"

// commandsWithPrinterOutput are the commands whose stdout is table or JSON
// meant for terminals and pipes. Logging is suppressed for them unless the
// user asks for debug explicitly, so printer output stays parseable.
var commandsWithPrinterOutput = map[string]bool{
	"status": true,
	"errors": true,
}

// Run wires flags, logging and the selected command and executes it.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	app := kingpin.New("optrack", "Operation tracking and error recovery toolkit.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Registering a command also registers its flags on the app.
	runCmd := commands.NewRunCommand(rootCmd, app)
	statusCmd := commands.NewStatusCommand(rootCmd, app)
	errorsCmd := commands.NewErrorsCommand(rootCmd, app)
	doctorCmd := commands.NewDoctorCommand(rootCmd, app)

	cmds := map[string]commands.Command{
		runCmd.Name():    runCmd,
		statusCmd.Name(): statusCmd,
		errorsCmd.Name(): errorsCmd,
		doctorCmd.Name(): doctorCmd,
	}

	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	if commandsWithPrinterOutput[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	rootCmd.Logger = newLogger(*rootCmd)

	var g run.Group

	// OS signals stop the whole group.
	{
		sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer sigCancel()

		g.Add(
			func() error {
				<-sigCtx.Done()
				rootCmd.Logger.Debugf("Signal received, stopping")
				return nil
			},
			func(_ error) {
				sigCancel()
			},
		)
	}

	// Selected command.
	{
		cmdCtx, cmdCancel := context.WithCancel(ctx)
		defer cmdCancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(cmdCtx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cmdCancel()
			},
		)
	}

	return g.Run()
}

// newLogger builds the application logger from the root flags. Logs always go
// to stderr so they never mix with printer output on stdout.
func newLogger(config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	core := logrus.New()
	core.Out = config.Stderr
	if config.Debug {
		core.SetLevel(logrus.DebugLevel)
	}

	switch config.LoggerType {
	case commands.LoggerTypeJSON:
		core.SetFormatter(&logrus.JSONFormatter{})
	default:
		core.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	}

	logger := loglogrus.NewLogrus(logrus.NewEntry(core)).WithValues(log.Kv{
		"version": Version,
	})
	logger.Debugf("Debug logging enabled")

	return logger
}

func main() {
	err := Run(context.Background(), os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
