// Package profile persists per-device configuration snapshots as YAML
// documents under a config root, one file per device, written atomically.
package profile

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Snapshot is the saved-preferences portion of a device record. Live
// dynamic state is never persisted.
type Snapshot struct {
	Name    string               `yaml:"name"`
	Kind    device.Kind          `yaml:"kind"`
	Backend device.Backend       `yaml:"backend"`
	Connect device.ConnectParams `yaml:"connect"`
	Prefs   map[string]any       `yaml:"prefs,omitempty"`
}

// Store reads and writes snapshots under root/<kind>/<name>.yaml.
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates a snapshot store rooted at dir.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: dir, logger: logger.With(zap.String("component", "profile_store"))}
}

func (s *Store) path(kind device.Kind, name string) string {
	return filepath.Join(s.root, string(kind), name+".yaml")
}

// Save writes the snapshot atomically: temp file in the target directory,
// then rename.
func (s *Store) Save(snap *Snapshot) error {
	if snap.Name == "" || snap.Kind == "" {
		return errs.New(errs.InvalidArgument, "snapshot needs a name and a kind")
	}
	path := s.path(snap.Kind, snap.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.PersistenceError, err, "creating profile directory")
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "encoding profile %s", snap.Name)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".profile-*")
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "staging profile %s", snap.Name)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errs.Wrap(errs.PersistenceError, err, "writing profile %s", snap.Name)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errs.Wrap(errs.PersistenceError, err, "writing profile %s", snap.Name)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return errs.Wrap(errs.PersistenceError, err, "committing profile %s", snap.Name)
	}
	s.logger.Debug("profile saved", zap.String("path", path))
	return nil
}

// Load reads and validates one snapshot. A missing file and a malformed
// file are both real errors.
func (s *Store) Load(kind device.Kind, name string) (*Snapshot, error) {
	path := s.path(kind, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, err, "reading profile %s", name)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, errs.Wrap(errs.PersistenceError, err, "decoding profile %s", name)
	}
	if snap.Name == "" {
		snap.Name = name
	}
	if snap.Kind == "" {
		snap.Kind = kind
	}
	if snap.Kind != kind {
		return nil, errs.New(errs.InvalidArgument, "profile %s is for kind %s, not %s", name, snap.Kind, kind)
	}
	return &snap, nil
}

// List enumerates saved profile names for one kind.
func (s *Store) List(kind device.Kind) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, string(kind)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.PersistenceError, err, "listing %s profiles", kind)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		names = append(names, entry.Name()[:len(entry.Name())-len(".yaml")])
	}
	return names, nil
}
