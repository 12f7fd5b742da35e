package codexrpc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Profile mirrors the subset of ~/.codex/config.toml the executor cares
// about. Zero values mean the user left the setting to the CLI default.
type Profile struct {
	Model                string `toml:"model"`
	ModelReasoningEffort string `toml:"model_reasoning_effort"`
	SandboxMode          string `toml:"sandbox_mode"`
	ApprovalPolicy       string `toml:"approval_policy"`
}

// LoadProfile reads the Codex CLI config from dir (defaulting to ~/.codex).
// A missing file is not an error; it returns a zero profile so spawn
// parameters fall back to defaults.
func LoadProfile(dir string) (Profile, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Profile{}, fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".codex")
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Profile{}, nil
		}

		return Profile{}, fmt.Errorf("read codex config: %w", err)
	}

	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse codex config: %w", err)
	}

	return p, nil
}
