package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/avast/retry-go/v4"
	"github.com/natefinch/atomic"
	"k8s.io/klog/v2"
)

// Disk implements FileSystem against the real filesystem, rooted at dir.
type Disk struct {
	dir string
}

// NewDisk returns a Disk filesystem rooted at dir, creating dir if it does
// not already exist.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: failed to create root %s: %w", dir, err)
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) path(name string) string {
	return filepath.Join(d.dir, name)
}

// CreateAppend writes data to name atomically: readers never observe a
// partially written run file.
func (d *Disk) CreateAppend(name string, data []byte) error {
	return atomic.WriteFile(d.path(name), bytes.NewReader(data))
}

func (d *Disk) ReadAt(name string, offset, length int64) ([]byte, error) {
	f, err := os.Open(d.path(name))
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open %s: %w", name, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("storage: failed to read %s at %d: %w", name, offset, err)
	}
	return buf, nil
}

// Rename moves oldName to newName, retrying a few times on transient
// failures before giving up: run promotion happens on every merge, and a
// single flaky rename should not sour an otherwise healthy tree.
func (d *Disk) Rename(oldName, newName string) error {
	err := retry.Do(
		func() error {
			return os.Rename(d.path(oldName), d.path(newName))
		},
		retry.Attempts(3),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return fmt.Errorf("storage: failed to rename %s to %s: %w", oldName, newName, err)
	}
	return nil
}

// Remove deletes name. A missing file is logged and treated as success:
// a Layer reset that races a prior partial cleanup should not fail because
// of it.
func (d *Disk) Remove(name string) error {
	err := os.Remove(d.path(name))
	if os.IsNotExist(err) {
		klog.V(2).Infof("storage: remove %s: already gone", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: failed to remove %s: %w", name, err)
	}
	return nil
}

func (d *Disk) Size(name string) (int64, error) {
	info, err := os.Stat(d.path(name))
	if err != nil {
		return 0, fmt.Errorf("storage: failed to stat %s: %w", name, err)
	}
	return info.Size(), nil
}

var _ FileSystem = (*Disk)(nil)
