package digest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rappterbook/rappterd/internal/state"
)

const historyHeading = "## History\n"

// SoulPath is the agent's soul file under the state directory.
func SoulPath(stateDir, agentID string) string {
	return filepath.Join(stateDir, "memory", agentID+".md")
}

// ReadSoul returns the soul file's text, or "" when it does not exist.
func ReadSoul(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AppendResearchLead records lead as the newest History entry of the soul
// file at path. A missing soul file is left alone and reports false.
func AppendResearchLead(path, lead string, now time.Time) (bool, error) {
	soul, err := ReadSoul(path)
	if err != nil {
		return false, err
	}
	if soul == "" {
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			return false, nil
		}
	}

	entry := fmt.Sprintf("- **%s** — Weekly digest published. Research lead: %s\n", state.Timestamp(now), lead)
	if i := strings.Index(soul, historyHeading); i >= 0 {
		at := i + len(historyHeading)
		soul = soul[:at] + entry + soul[at:]
	} else {
		soul += "\n\n" + historyHeading + "\n" + entry
	}
	if err := state.WriteFile(path, []byte(soul)); err != nil {
		return false, err
	}
	return true, nil
}
