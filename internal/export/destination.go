package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Destination receives a complete snapshot.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write stores the JSONL payload, replacing any previous snapshot.
	Write(ctx context.Context, data []byte) error
}

// FileDestination writes the snapshot to a local path. The file is replaced
// atomically so readers never see a partial snapshot.
type FileDestination struct {
	path string
}

func NewFileDestination(path string) *FileDestination {
	return &FileDestination{path: path}
}

func (d *FileDestination) Name() string { return "file:" + d.path }

func (d *FileDestination) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// WriterDestination copies the snapshot to an io.Writer such as stdout.
type WriterDestination struct {
	name string
	w    io.Writer
}

func NewWriterDestination(name string, w io.Writer) *WriterDestination {
	return &WriterDestination{name: name, w: w}
}

func (d *WriterDestination) Name() string { return d.name }

func (d *WriterDestination) Write(_ context.Context, data []byte) error {
	_, err := d.w.Write(data)
	return err
}
