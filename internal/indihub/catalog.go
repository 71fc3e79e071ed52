// Package indihub manages a local INDI server: the driver catalog parsed
// from the distribution XML files, the indiserver process driven over its
// FIFO control pipe, persisted equipment profiles, and the HTTP control
// plane that exposes all of it.
package indihub

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/errs"
)

// DefaultDataDir is where the INDI distribution installs driver metadata.
const DefaultDataDir = "/usr/share/indi"

// Driver is one installed INDI driver.
type Driver struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Version  string `json:"version"`
	Binary   string `json:"binary"`
	Family   string `json:"family"`
	Skeleton string `json:"skeleton,omitempty"`
	Custom   bool   `json:"custom"`
}

// Remote reports whether the driver entry points at another INDI server
// rather than a local binary.
func (d Driver) Remote() bool {
	return strings.Contains(d.Binary, "@")
}

type driverXML struct {
	Groups []struct {
		Group   string `xml:"group,attr"`
		Devices []struct {
			Label  string `xml:"label,attr"`
			Skel   string `xml:"skel,attr"`
			Driver struct {
				Name   string `xml:"name,attr"`
				Binary string `xml:",chardata"`
			} `xml:"driver"`
			Version string `xml:"version"`
		} `xml:"device"`
	} `xml:"devGroup"`
}

// Catalog indexes the installed drivers plus any user-registered custom
// entries.
type Catalog struct {
	dataDir string
	logger  *zap.Logger

	mu      sync.RWMutex
	drivers []Driver
}

// NewCatalog builds a catalog over the given data directory.
func NewCatalog(dataDir string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	return &Catalog{
		dataDir: dataDir,
		logger:  logger.With(zap.String("component", "indi_catalog")),
	}
}

// Load parses every driver XML in the data directory. Skeleton files
// (*_sk.xml) describe properties, not drivers, and are skipped. A file
// that fails to parse is logged and skipped so one bad vendor file does
// not empty the catalog.
func (c *Catalog) Load() error {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "reading driver data dir %s", c.dataDir)
	}
	var drivers []Driver
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".xml") || strings.Contains(name, "_sk") {
			continue
		}
		path := filepath.Join(c.dataDir, name)
		parsed, err := parseDriverFile(path)
		if err != nil {
			c.logger.Warn("skipping driver file", zap.String("file", name), zap.Error(err))
			continue
		}
		drivers = append(drivers, parsed...)
	}
	sort.Slice(drivers, func(i, j int) bool { return drivers[i].Label < drivers[j].Label })

	c.mu.Lock()
	custom := c.customLocked()
	c.drivers = append(drivers, custom...)
	c.mu.Unlock()
	c.logger.Info("driver catalog loaded", zap.Int("drivers", len(drivers)))
	return nil
}

func parseDriverFile(path string) ([]Driver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc driverXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var drivers []Driver
	for _, group := range doc.Groups {
		for _, dev := range group.Devices {
			d := Driver{
				Name:    dev.Driver.Name,
				Label:   dev.Label,
				Version: dev.Version,
				Binary:  strings.TrimSpace(dev.Driver.Binary),
				Family:  group.Group,
			}
			if d.Version == "" {
				d.Version = "0.0"
			}
			if dev.Skel != "" {
				d.Skeleton = filepath.Join(filepath.Dir(path), dev.Skel)
			}
			if d.Binary == "" || d.Label == "" {
				continue
			}
			drivers = append(drivers, d)
		}
	}
	return drivers, nil
}

func (c *Catalog) customLocked() []Driver {
	var custom []Driver
	for _, d := range c.drivers {
		if d.Custom {
			custom = append(custom, d)
		}
	}
	return custom
}

// Drivers returns a copy of the full catalog.
func (c *Catalog) Drivers() []Driver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Driver, len(c.drivers))
	copy(out, c.drivers)
	return out
}

// ByLabel finds a driver by its display label.
func (c *Catalog) ByLabel(label string) (Driver, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.drivers {
		if d.Label == label {
			return d, nil
		}
	}
	return Driver{}, errs.New(errs.InvalidArgument, "no driver labelled %q", label)
}

// ByName finds a driver by its driver name.
func (c *Catalog) ByName(name string) (Driver, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.drivers {
		if d.Name == name {
			return d, nil
		}
	}
	return Driver{}, errs.New(errs.InvalidArgument, "no driver named %q", name)
}

// Families groups driver labels by device family.
func (c *Catalog) Families() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	families := make(map[string][]string)
	for _, d := range c.drivers {
		families[d.Family] = append(families[d.Family], d.Label)
	}
	return families
}

// SetCustom replaces the registered custom drivers.
func (c *Catalog) SetCustom(drivers []Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.drivers[:0]
	for _, d := range c.drivers {
		if !d.Custom {
			kept = append(kept, d)
		}
	}
	for _, d := range drivers {
		d.Custom = true
		kept = append(kept, d)
	}
	c.drivers = kept
}
