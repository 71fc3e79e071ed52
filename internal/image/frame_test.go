package image

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

func TestHistogram8Bit(t *testing.T) {
	frame := &device.Frame{Data: []byte{0, 0, 128, 255}, Width: 2, Height: 2, BitDepth: 8}
	hist, err := Histogram(frame)
	require.NoError(t, err)
	require.Len(t, hist, 256)
	assert.Equal(t, 2, hist[0])
	assert.Equal(t, 1, hist[128])
	assert.Equal(t, 1, hist[255])
}

func TestHistogram16Bit(t *testing.T) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:], 0)
	binary.LittleEndian.PutUint16(data[2:], 65535)
	frame := &device.Frame{Data: data, Width: 2, Height: 1, BitDepth: 16}

	hist, err := Histogram(frame)
	require.NoError(t, err)
	assert.Equal(t, 1, hist[0])
	assert.Equal(t, 1, hist[255])
}

func TestHistogramErrors(t *testing.T) {
	_, err := Histogram(nil)
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	_, err = Histogram(&device.Frame{Data: []byte{1, 2, 3}, BitDepth: 16})
	assert.True(t, errs.IsKind(err, errs.ProtocolError))

	_, err = Histogram(&device.Frame{Data: []byte{1}, BitDepth: 12})
	assert.True(t, errs.IsKind(err, errs.Unsupported))
}

func TestArtifactName(t *testing.T) {
	at := time.Date(2026, 3, 15, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "Image_m42_3_20260315T223000.fits", ArtifactName("m42", 3, "fits", at))
	assert.Equal(t, "Image_single_0_20260315T223000.fits", ArtifactName("", 0, "fits", at))
	assert.Equal(t, "Image_horse_head_1_20260315T223000.fits", ArtifactName("horse head", 1, "fits", at))
}

func TestWriteFITS(t *testing.T) {
	dir := t.TempDir()
	path := ArtifactPath(dir, "test.fits")
	frame := &device.Frame{
		Data:     make([]byte, 4),
		Width:    2,
		Height:   2,
		Channels: 1,
		BitDepth: 8,
	}
	meta := FITSMeta{
		ExposureSeconds: 2.5,
		Timestamp:       time.Date(2026, 3, 15, 22, 30, 0, 0, time.UTC),
		Binning:         1,
		Gain:            42,
		SensorType:      "TestSensor",
		FrameKind:       device.FrameLight,
	}
	require.NoError(t, WriteFITS(path, frame, meta))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Header and data each occupy whole 2880-byte blocks.
	assert.Equal(t, 2*fitsBlockSize, len(data))

	header := string(data[:fitsBlockSize])
	assert.Contains(t, header, "SIMPLE")
	assert.Contains(t, header, "BITPIX")
	assert.Contains(t, header, "EXPTIME")
	assert.Contains(t, header, "2026-03-15T22:30:00")
	assert.Contains(t, header, "'TestSensor'")
	assert.Contains(t, header, "'light'")
	assert.Contains(t, header, "END")
}

func TestWriteFITSValidation(t *testing.T) {
	path := ArtifactPath(t.TempDir(), "bad.fits")

	err := WriteFITS(path, &device.Frame{}, FITSMeta{})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	err = WriteFITS(path, &device.Frame{Data: []byte{1}, BitDepth: 12}, FITSMeta{})
	assert.True(t, errs.IsKind(err, errs.Unsupported))
}

func TestBigEndianPixels16BitShiftsToSigned(t *testing.T) {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, 32768)
	out, err := bigEndianPixels(&device.Frame{Data: data, BitDepth: 16})
	require.NoError(t, err)
	// 32768 unsigned maps to 0 signed under BZERO 32768.
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(out))
}
