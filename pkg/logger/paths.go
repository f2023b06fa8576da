/* pkg/logger/paths.go */

package logger

import (
	"os"
	"path/filepath"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
)

// DefaultLogPaths returns candidate log paths in order of priority.
func DefaultLogPaths() []string {
	paths := []string{shared.HearthLogs}
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		paths = append(paths, filepath.Join(state, shared.HearthID, "hearth.log"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "state", shared.HearthID, "hearth.log"))
	}
	return append(paths, shared.HearthLogsPWD, "/tmp/hearth/hearth.log")
}
