package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	snap := &Snapshot{
		Name:    "main-cam",
		Kind:    device.KindCamera,
		Backend: device.BackendASCOM,
		Connect: device.ConnectParams{Backend: device.BackendASCOM, Host: "127.0.0.1", Port: 11111},
		Prefs:   map[string]any{"defaultGain": 42},
	}
	require.NoError(t, store.Save(snap))

	loaded, err := store.Load(device.KindCamera, "main-cam")
	require.NoError(t, err)
	assert.Equal(t, snap.Name, loaded.Name)
	assert.Equal(t, snap.Backend, loaded.Backend)
	assert.Equal(t, snap.Connect.Host, loaded.Connect.Host)
	assert.Equal(t, 42, loaded.Prefs["defaultGain"])
}

func TestStoreSaveValidation(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	err := store.Save(&Snapshot{Kind: device.KindCamera})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	err = store.Save(&Snapshot{Name: "cam"})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	_, err := store.Load(device.KindCamera, "nope")
	assert.True(t, errs.IsKind(err, errs.PersistenceError))
}

func TestStoreLoadKindMismatch(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	require.NoError(t, store.Save(&Snapshot{Name: "shared", Kind: device.KindMount}))

	_, err := store.Load(device.KindCamera, "shared")
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestStoreLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	path := filepath.Join(dir, string(device.KindCamera), "broken.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- not yaml"), 0o644))

	_, err := store.Load(device.KindCamera, "broken")
	assert.True(t, errs.IsKind(err, errs.PersistenceError))
}

func TestStoreList(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	names, err := store.List(device.KindFocuser)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Save(&Snapshot{Name: "foc-a", Kind: device.KindFocuser}))
	require.NoError(t, store.Save(&Snapshot{Name: "foc-b", Kind: device.KindFocuser}))
	require.NoError(t, store.Save(&Snapshot{Name: "cam", Kind: device.KindCamera}))

	names, err = store.List(device.KindFocuser)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foc-a", "foc-b"}, names)
}
