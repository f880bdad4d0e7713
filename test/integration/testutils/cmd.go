package testutils

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// RunOptrack executes an optrack command built from a whitespace-separated
// argument string. Use RunOptrackArgs when an argument itself contains spaces
// (e.g. a scenario path with spaces).
func RunOptrack(ctx context.Context, env []string, binary, cmdArgs string, nolog bool) (stdout, stderr []byte, err error) {
	return RunOptrackArgs(ctx, env, binary, strings.Fields(cmdArgs), nolog)
}

// RunOptrackArgs executes an optrack command with pre-split arguments and
// returns its captured stdout and stderr. The subprocess inherits the test
// runner's environment with env appended on top, so duplicated keys resolve
// to the custom values. With nolog the subprocess runs with OPTRACK_NO_LOG
// set, keeping log noise out of the captured output that tests assert on.
func RunOptrackArgs(ctx context.Context, env []string, binary string, args []string, nolog bool) (stdout, stderr []byte, err error) {
	if nolog {
		env = append(env, "OPTRACK_NO_LOG=true")
	}

	var outData, errData bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &outData
	cmd.Stderr = &errData
	cmd.Env = append(os.Environ(), env...)

	err = cmd.Run()

	return outData.Bytes(), errData.Bytes(), err
}
