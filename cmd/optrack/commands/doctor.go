package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/salerhq/optrack/internal/app/doctor"
	"github.com/salerhq/optrack/internal/model"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	scenarioPath string
	archivePath  string
	probeTarget  string
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run preflight checks for the tracking runtime.")
	c.Cmd.Flag("scenario", "Scenario YAML file to lint (defaults to scenario.yaml under the data dir).").Envar("OPTRACK_SCENARIO").StringVar(&c.scenarioPath)
	c.Cmd.Flag("archive", "SQLite error archive file to inspect (defaults to errors.db under the data dir).").StringVar(&c.archivePath)
	c.Cmd.Flag("probe-target", "URL probed for the connectivity check.").Envar("OPTRACK_PROBE_TARGET").StringVar(&c.probeTarget)

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	out := c.rootCmd.Stdout

	svc, err := doctor.NewService(doctor.ServiceConfig{
		DataDir:      c.rootCmd.DataDir,
		ArchivePath:  resolveArchivePath(c.rootCmd.DataDir, c.archivePath),
		ScenarioPath: resolveScenarioPath(c.rootCmd.DataDir, c.scenarioPath),
		ProbeTarget:  c.probeTarget,
		Logger:       c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create doctor service: %w", err)
	}

	results := svc.Check(ctx)

	fmt.Fprintln(out, "Checking optrack runtime...")
	for _, r := range results {
		fmt.Fprintf(out, "  %s %-20s %s\n", checkIcon(r.Status), r.ID, r.Message)
	}

	// Summary line and exit code. Warnings alone don't fail the command.
	_, warnings, errs := model.CountByStatus(results)

	fmt.Fprintln(out)
	switch {
	case errs == 0 && warnings == 0:
		fmt.Fprintln(out, "All checks passed!")
	case errs == 0:
		fmt.Fprintf(out, "%d warning(s)\n", warnings)
	case warnings == 0:
		fmt.Fprintf(out, "%d error(s)\n", errs)
	default:
		fmt.Fprintf(out, "%d error(s), %d warning(s)\n", errs, warnings)
	}

	if errs > 0 {
		return fmt.Errorf("preflight checks failed with %d error(s)", errs)
	}

	return nil
}

var checkIcons = map[model.CheckStatus]string{
	model.CheckStatusOK:      "OK",
	model.CheckStatusWarning: "!!",
	model.CheckStatusError:   "XX",
}

func checkIcon(status model.CheckStatus) string {
	if icon, ok := checkIcons[status]; ok {
		return icon
	}
	return "??"
}
