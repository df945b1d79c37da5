package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// State holds the credentials the registration flow obtained. It is kept
// out of the main config file so the config can be checked into dotfiles
// without leaking the secret.
type State struct {
	Secret   string `yaml:"secret"`
	DeviceID string `yaml:"device_id"`
}

func (s *State) Validate() error {
	if s == nil || strings.TrimSpace(s.Secret) == "" || strings.TrimSpace(s.DeviceID) == "" {
		return errors.New("state: missing secret or device_id (run with -register first)")
	}
	return nil
}

func LoadState(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := yaml.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("state %s: %w", path, err)
	}
	return &st, nil
}

// SaveState writes the state file with owner-only permissions, via a
// temp-file rename so a crash never leaves a half-written credential file.
func SaveState(path string, st *State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".state.*.tmp")
	if err != nil {
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
