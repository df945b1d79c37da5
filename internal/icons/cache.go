// Package icons is a content-addressed on-disk store for downloaded icon
// assets. The service serves immutable content per icon id, so an entry is
// never refreshed within a process lifetime: existence of the file is the
// entry.
package icons

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "pullover/pkg/logx"
)

// Fetcher downloads raw icon bytes. Satisfied by *api.Client.
type Fetcher interface {
	FetchIcon(ctx context.Context, iconID string) ([]byte, error)
}

type Cache struct {
	dir     string
	fetcher Fetcher
	log     logx.Logger
}

// New creates a cache rooted at <cacheDir>/icons. The directory is created
// on first Resolve, not here.
func New(cacheDir string, fetcher Fetcher, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		dir:     filepath.Join(cacheDir, "icons"),
		fetcher: fetcher,
		log:     log,
	}
}

// Resolve returns the local path for iconID, downloading it on first use.
//
// There is deliberately no lock here: two in-flight batches resolving the
// same id may both download it, which is a benign duplicate (the rename is
// atomic and the content identical). Contrast with the batch processor,
// which is fully serialized.
func (c *Cache) Resolve(ctx context.Context, iconID string) (string, error) {
	name, err := sanitizeID(iconID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(c.dir, name+".png")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("icon cache: mkdir %s: %w", c.dir, err)
	}

	b, err := c.fetcher.FetchIcon(ctx, iconID)
	if err != nil {
		return "", fmt.Errorf("icon cache: download %q: %w", iconID, err)
	}

	// Write-then-rename so a concurrent duplicate download never exposes a
	// half-written file.
	tmp, err := os.CreateTemp(c.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("icon cache: temp file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("icon cache: write %q: %w", iconID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("icon cache: close %q: %w", iconID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("icon cache: rename %q: %w", iconID, err)
	}

	c.log.Debug("icon cached", logx.String("icon", iconID), logx.String("path", path))
	return path, nil
}

// sanitizeID rejects icon ids that could escape the cache directory.
func sanitizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("icon cache: empty icon id")
	}
	if strings.ContainsAny(id, "/\\") || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("icon cache: invalid icon id %q", id)
	}
	return id, nil
}
