package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

/*
SourceCache keeps source files (shapefile sets, GeoJSON, GPX) on local storage.
Missing files are downloaded once from the remote store, keyed by file name.
Cached files are read-only, downloads are idempotent (temporary file and rename).
*/
type SourceCache struct {
	Directory    string
	Remote       BlobStore // nil: local files only
	RemotePrefix string
	MaxAttempts  uint
	Metrics      *EngineMetrics
}

/*
Ensure makes sure all named files are present locally and returns their local paths.
A file missing locally and remotely results in ErrNoEntities.
*/
func (c *SourceCache) Ensure(ctx context.Context, names []string) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		local := filepath.Join(c.Directory, name)
		if !FileExists(local) {
			err := c.fetch(ctx, name, local)
			if err != nil {
				return nil, err
			}
		}
		paths = append(paths, local)
	}
	return paths, nil
}

/*
fetch downloads one file with exponential backoff.
*/
func (c *SourceCache) fetch(ctx context.Context, name, local string) error {
	if c.Remote == nil {
		return fmt.Errorf("%w: source file [%s] not cached", ErrNoEntities, name)
	}
	key := path.Join(c.RemotePrefix, name)
	start := time.Now()

	attempts := c.MaxAttempts
	if attempts == 0 {
		attempts = 5
	}
	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		data, err := c.Remote.Get(ctx, key)
		if errors.Is(err, ErrBlobNotFound) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			slog.Warn("source download failed, retrying", "key", key, "error", err)
		}
		return data, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(attempts))
	if errors.Is(err, ErrBlobNotFound) {
		return fmt.Errorf("%w: source file [%s] not available (%w)", ErrNoEntities, name, err)
	}
	if err != nil {
		return fmt.Errorf("%w: downloading source file [%s]: %w", ErrUpstreamUnavailable, name, err)
	}

	err = os.MkdirAll(filepath.Dir(local), 0o755)
	if err != nil {
		return fmt.Errorf("error [%w] at os.MkdirAll()", err)
	}
	tmp := local + "." + uuid.NewString() + ".part"
	err = os.WriteFile(tmp, data, 0o644)
	if err != nil {
		return fmt.Errorf("error [%w] at os.WriteFile(), file %s", err, tmp)
	}
	err = os.Rename(tmp, local)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("error [%w] at os.Rename(), file %s", err, local)
	}

	c.Metrics.ObserveDownload(len(data), time.Since(start))
	slog.Info("source file cached", "name", name, "bytes", len(data), "duration", time.Since(start).String())
	return nil
}
