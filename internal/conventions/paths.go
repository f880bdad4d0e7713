package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default optrack data directory name (relative to
	// home).
	DefaultDataDir = ".optrack"
	// ArchiveFile is the filename of the SQLite error archive inside the data
	// directory.
	ArchiveFile = "errors.db"
	// ScenarioFile is the filename of the workload scenario file inside the
	// data directory.
	ScenarioFile = "scenario.yaml"
	// DefaultListenAddr is the default status server listen address. Loopback
	// only, the server is local observability.
	DefaultListenAddr = "127.0.0.1:7677"
)

// ArchivePath returns the path of the error archive inside the data
// directory.
func ArchivePath(dataDir string) string {
	return filepath.Join(dataDir, ArchiveFile)
}

// ScenarioPath returns the path of the scenario file inside the data
// directory.
func ScenarioPath(dataDir string) string {
	return filepath.Join(dataDir, ScenarioFile)
}
