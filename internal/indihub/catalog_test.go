package indihub

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDriverXML = `<driversList>
  <devGroup group="CCDs">
    <device label="ZWO CCD" manufacturer="ZWO">
      <driver name="ZWO CCD">indi_asi_ccd</driver>
      <version>2.3</version>
    </device>
    <device label="CCD Simulator" skel="ccd_simulator_sk.xml">
      <driver name="CCD Simulator">indi_simulator_ccd</driver>
      <version>1.0</version>
    </device>
  </devGroup>
  <devGroup group="Telescopes">
    <device label="EQMod Mount">
      <driver name="EQMod Mount">indi_eqmod_telescope</driver>
    </device>
  </devGroup>
</driversList>`

func writeCatalogDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drivers.xml"), []byte(sampleDriverXML), 0o644))
	// Skeleton files describe properties, not drivers.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ccd_simulator_sk.xml"), []byte("<INDIDriver/>"), 0o644))
	// A broken vendor file must not empty the catalog.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.xml"), []byte("<driversList><unclosed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not xml"), 0o644))
	return dir
}

func TestCatalogLoad(t *testing.T) {
	cat := NewCatalog(writeCatalogDir(t), nil)
	require.NoError(t, cat.Load())

	drivers := cat.Drivers()
	require.Len(t, drivers, 3)

	zwo, err := cat.ByLabel("ZWO CCD")
	require.NoError(t, err)
	assert.Equal(t, "indi_asi_ccd", zwo.Binary)
	assert.Equal(t, "2.3", zwo.Version)
	assert.Equal(t, "CCDs", zwo.Family)
	assert.False(t, zwo.Remote())

	sim, err := cat.ByName("CCD Simulator")
	require.NoError(t, err)
	assert.NotEmpty(t, sim.Skeleton)

	// Missing version falls back.
	eqmod, err := cat.ByLabel("EQMod Mount")
	require.NoError(t, err)
	assert.Equal(t, "0.0", eqmod.Version)

	_, err = cat.ByLabel("No Such Driver")
	assert.Error(t, err)
}

func TestCatalogFamilies(t *testing.T) {
	cat := NewCatalog(writeCatalogDir(t), nil)
	require.NoError(t, cat.Load())

	families := cat.Families()
	assert.Len(t, families["CCDs"], 2)
	assert.Len(t, families["Telescopes"], 1)
}

func TestCatalogCustomSurvivesReload(t *testing.T) {
	cat := NewCatalog(writeCatalogDir(t), nil)
	require.NoError(t, cat.Load())

	cat.SetCustom([]Driver{{Name: "my_driver", Label: "My Driver", Binary: "indi_my_driver"}})
	d, err := cat.ByLabel("My Driver")
	require.NoError(t, err)
	assert.True(t, d.Custom)

	require.NoError(t, cat.Load())
	_, err = cat.ByLabel("My Driver")
	assert.NoError(t, err)

	cat.SetCustom(nil)
	_, err = cat.ByLabel("My Driver")
	assert.Error(t, err)
}

func TestDriverRemote(t *testing.T) {
	assert.True(t, Driver{Binary: "\"ZWO CCD\"@192.168.1.5"}.Remote())
	assert.False(t, Driver{Binary: "indi_asi_ccd"}.Remote())
}
