// Package persist provides JSON-file persistence helpers for state
// that has to survive a restart. No service saves or loads state
// through it: cmd/drivermanagerd constructs a Store and does not call
// it.
//
// Grounded directly on persist/fs/fs.go's Init/ToDisk/FromDisk
// pattern: a single JSON file per logical state blob, written with a
// restrictive file mode, read back into the same type it was
// serialized from.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var persistLog = logrus.WithField("source", "persist")

func logger(driver string) *logrus.Entry {
	return persistLog.WithFields(logrus.Fields{"subsystem": "persist", "driver": driver})
}

const (
	dirMode  = os.FileMode(0700)
	fileMode = os.FileMode(0600)
)

// Store persists a single named value as a JSON file beneath root,
// mirroring FS's storageRootPath-relative ToDisk/FromDisk pair but
// generalized to any JSON-serializable state rather than only
// sandbox/container state.
type Store struct {
	root   string
	driver string
}

// NewStore returns a Store rooted at dir, creating it lazily on first
// write.
func NewStore(dir, driverName string) *Store {
	return &Store{root: dir, driver: driverName}
}

// Save writes v as JSON to name beneath the store's root.
func (s *Store) Save(name string, v interface{}) error {
	if err := os.MkdirAll(s.root, dirMode); err != nil {
		return errors.Wrap(err, "persist: create root")
	}
	path := filepath.Join(s.root, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return errors.Wrap(err, "persist: open")
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(v); err != nil {
		return errors.Wrap(err, "persist: encode")
	}
	logger(s.driver).WithField("file", path).Debug("persisted state")
	return nil
}

// Load decodes name beneath the store's root into v. A missing file is
// not an error: v is left unmodified and ok is false.
func (s *Store) Load(name string, v interface{}) (ok bool, err error) {
	path := filepath.Join(s.root, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "persist: open")
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return false, errors.Wrap(err, "persist: decode")
	}
	return true, nil
}
