package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pullover/internal/api"
	"pullover/internal/config"
	logx "pullover/pkg/logx"
)

// RegisterOptions drives the one-shot device registration flow.
type RegisterOptions struct {
	ConfigPath string
	Email      string
	DeviceName string

	// Password is read from stdin when empty.
	Password string
}

// Register performs the login + device-creation exchange and writes the
// credential state file the daemon reads at startup. It is the only caller
// of the login endpoints; the sync core never sees user credentials.
func Register(ctx context.Context, opts RegisterOptions, log logx.Logger) error {
	if strings.TrimSpace(opts.Email) == "" {
		return errors.New("register: -email is required")
	}
	name := strings.TrimSpace(opts.DeviceName)
	if name == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "pullover"
		}
		name = host
	}

	cfg := &config.Config{}
	if opts.ConfigPath != "" {
		mgr := config.NewManager(opts.ConfigPath)
		loaded, err := mgr.Load()
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
			// fine, defaults
		default:
			return fmt.Errorf("config %s: %w", opts.ConfigPath, err)
		}
	}

	cacheDir, err := resolveCacheDir(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	statePath := strings.TrimSpace(cfg.StateFile)
	if statePath == "" {
		statePath = filepath.Join(cacheDir, "state.yaml")
	}

	password := opts.Password
	if password == "" {
		fmt.Fprintf(os.Stderr, "password for %s: ", opts.Email)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("register: reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("register: empty password")
	}

	client := api.NewClient(api.Config{Endpoint: cfg.API.Endpoint}, log)

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	secret, err := client.Login(ctx, opts.Email, password)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	deviceID, err := client.RegisterDevice(ctx, secret, name)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	st := &config.State{Secret: secret, DeviceID: deviceID}
	if err := config.SaveState(statePath, st); err != nil {
		return fmt.Errorf("register: saving state: %w", err)
	}

	log.Info("device registered", logx.String("device", name), logx.String("state", statePath))
	return nil
}
