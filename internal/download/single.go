// Package download saves log text to disk: the visible pane of the current task
// and, through a caller supplied producer, every container of the bound pod.
package download

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/tklogs/internal/stream"
)

// ErrNoHandle is returned when there is no visible pane to save.
var ErrNoHandle = errors.New("no log text to download")

// FileName returns "<task-name>.log" with path separators replaced.
func FileName(taskName string) string {
	return sanitize(taskName) + ".log"
}

// AllFileName returns the file name used by the bulk download.
func AllFileName(taskName string) string {
	return sanitize(taskName) + "-all.log"
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "logs"
	}
	return strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_").Replace(name)
}

// SaveSingle writes exactly handle() as UTF-8 text to dir/<task-name>.log and
// returns the path written.
func SaveSingle(dir, taskName string, handle stream.LogTextHandle) (string, error) {
	if handle == nil {
		return "", ErrNoHandle
	}
	return writeFile(dir, FileName(taskName), []byte(handle()))
}

func writeFile(dir, name string, data []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}
