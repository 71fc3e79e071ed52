package indihub

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starbridge/observatoryd/internal/errs"
)

func openTestStore(t *testing.T) *ProfileStore {
	t.Helper()
	store, err := OpenProfileStore(filepath.Join(t.TempDir(), "profiles.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestProfileStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)

	p := Profile{
		Name:        "backyard",
		Autostart:   true,
		Autoconnect: true,
		Drivers:     []string{"ZWO CCD", "EQMod Mount"},
	}
	require.NoError(t, store.Save(p))

	loaded, err := store.Get("backyard")
	require.NoError(t, err)
	assert.Equal(t, "backyard", loaded.Name)
	assert.Equal(t, DefaultIndiPort, loaded.Port)
	assert.True(t, loaded.Autostart)
	assert.Equal(t, []string{"ZWO CCD", "EQMod Mount"}, loaded.Drivers)
}

func TestProfileStoreValidation(t *testing.T) {
	store := openTestStore(t)

	err := store.Save(Profile{})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	_, err = store.Get("missing")
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestProfileStoreListAndDelete(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(Profile{Name: "a"}))
	require.NoError(t, store.Save(Profile{Name: "b"}))

	profiles, err := store.List()
	require.NoError(t, err)
	assert.Len(t, profiles, 2)

	require.NoError(t, store.Delete("a"))
	require.NoError(t, store.Delete("a"))

	profiles, err = store.List()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "b", profiles[0].Name)
}

func TestProfileStoreSetDrivers(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(Profile{Name: "obs"}))

	remote := []string{"\"Dome Scripting Gateway\"@10.0.0.3"}
	require.NoError(t, store.SetDrivers("obs", []string{"CCD Simulator"}, remote))

	p, err := store.Get("obs")
	require.NoError(t, err)
	assert.Equal(t, []string{"CCD Simulator"}, p.Drivers)
	assert.Equal(t, remote, p.Remote)

	err = store.SetDrivers("missing", nil, nil)
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestProfileStoreCustomDrivers(t *testing.T) {
	store := openTestStore(t)

	err := store.SaveCustomDriver(Driver{Label: "No Binary"})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	require.NoError(t, store.SaveCustomDriver(Driver{
		Name:   "my_dome",
		Label:  "My Dome",
		Binary: "indi_my_dome",
		Family: "Domes",
	}))

	drivers, err := store.CustomDrivers()
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	assert.True(t, drivers[0].Custom)
	assert.Equal(t, "indi_my_dome", drivers[0].Binary)
}
