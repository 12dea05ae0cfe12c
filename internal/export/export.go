// Package export saves downloaded history blobs to disk.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/micro-ha/transmission-sync/internal/client"
	"github.com/micro-ha/transmission-sync/internal/model"
)

// Downloader fetches an export; *client.Client satisfies it.
type Downloader interface {
	ExportHistory(ctx context.Context, id model.DeviceID, format string) (client.Blob, error)
}

// Writer stores exports under Dir.
type Writer struct {
	Dir    string
	Logger *slog.Logger
}

// Save downloads the history of id and writes it to Dir. The file is
// replaced atomically, so readers never see a partial export.
func (w Writer) Save(ctx context.Context, src Downloader, id model.DeviceID, format string) (string, error) {
	blob, err := src.ExportHistory(ctx, id, format)
	if err != nil {
		return "", fmt.Errorf("export history for device %s: %w", id, err)
	}
	return w.Write(blob)
}

// Write stores blob under its own filename and returns the path.
func (w Writer) Write(blob client.Blob) (string, error) {
	name := sanitize(blob.Filename)
	if name == "" {
		return "", fmt.Errorf("export has no filename")
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(w.Dir, name)

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("create pending export: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil && w.Logger != nil {
			w.Logger.Debug("cleanup pending export", "path", path, "err", err)
		}
	}()
	if _, err := pending.Write(blob.Data); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("replace export: %w", err)
	}

	if w.Logger != nil {
		w.Logger.Info("history exported", "path", path, "bytes", len(blob.Data))
	}
	return path, nil
}

// Server-supplied names must not escape Dir.
func sanitize(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
