package indihub

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/errs"
)

// Profile is one saved equipment configuration: the server port plus the
// drivers to load.
type Profile struct {
	Name        string   `json:"name"`
	Port        int      `json:"port"`
	Autostart   bool     `json:"autostart"`
	Autoconnect bool     `json:"autoconnect"`
	Drivers     []string `json:"drivers"`
	Remote      []string `json:"remote,omitempty"`
}

var (
	bucketProfiles = []byte("profiles")
	bucketCustom   = []byte("custom_drivers")
)

// ProfileStore persists equipment profiles and custom driver entries in a
// bbolt file.
type ProfileStore struct {
	db     *bolt.DB
	logger *zap.Logger
}

// OpenProfileStore opens (creating if needed) the profile database.
func OpenProfileStore(path string, logger *zap.Logger) (*ProfileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.PersistenceError, err, "creating profile dir")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, err, "opening profile database %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketProfiles, bucketCustom} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.PersistenceError, err, "preparing profile database")
	}
	return &ProfileStore{
		db:     db,
		logger: logger.With(zap.String("component", "indi_profiles")),
	}, nil
}

// Close releases the database file.
func (s *ProfileStore) Close() error {
	return s.db.Close()
}

// Save writes or replaces one profile.
func (s *ProfileStore) Save(p Profile) error {
	if p.Name == "" {
		return errs.New(errs.InvalidArgument, "profile needs a name")
	}
	if p.Port == 0 {
		p.Port = DefaultIndiPort
	}
	data, err := json.Marshal(p)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "encoding profile %s", p.Name)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).Put([]byte(p.Name), data)
	})
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "saving profile %s", p.Name)
	}
	s.logger.Info("profile saved", zap.String("profile", p.Name), zap.Int("drivers", len(p.Drivers)))
	return nil
}

// Get loads one profile by name.
func (s *ProfileStore) Get(name string) (Profile, error) {
	var p Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProfiles).Get([]byte(name))
		if data == nil {
			return errs.New(errs.InvalidArgument, "no profile named %q", name)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		if errs.KindOf(err) == errs.InvalidArgument {
			return Profile{}, err
		}
		return Profile{}, errs.Wrap(errs.PersistenceError, err, "loading profile %s", name)
	}
	return p, nil
}

// List returns every saved profile.
func (s *ProfileStore) List() ([]Profile, error) {
	var out []Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(_, data []byte) error {
			var p Profile
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, err, "listing profiles")
	}
	return out, nil
}

// Delete removes one profile. Deleting a missing profile is not an error.
func (s *ProfileStore) Delete(name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).Delete([]byte(name))
	})
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "deleting profile %s", name)
	}
	return nil
}

// SetDrivers replaces the driver list of an existing profile.
func (s *ProfileStore) SetDrivers(name string, drivers, remote []string) error {
	p, err := s.Get(name)
	if err != nil {
		return err
	}
	p.Drivers = drivers
	p.Remote = remote
	return s.Save(p)
}

// SaveCustomDriver registers a user-supplied driver entry.
func (s *ProfileStore) SaveCustomDriver(d Driver) error {
	if d.Label == "" || d.Binary == "" {
		return errs.New(errs.InvalidArgument, "custom driver needs a label and a binary")
	}
	d.Custom = true
	data, err := json.Marshal(d)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "encoding custom driver")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCustom).Put([]byte(d.Label), data)
	})
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "saving custom driver %s", d.Label)
	}
	return nil
}

// CustomDrivers returns every registered custom driver.
func (s *ProfileStore) CustomDrivers() ([]Driver, error) {
	var out []Driver
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCustom).ForEach(func(_, data []byte) error {
			var d Driver
			if err := json.Unmarshal(data, &d); err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, err, "listing custom drivers")
	}
	return out, nil
}
