package image

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

const (
	fitsBlockSize = 2880
	fitsCardSize  = 80

	// Software identifier written into every FITS header.
	softwareID = "observatoryd"
)

// FITSMeta is the exposure metadata recorded in the artifact header.
type FITSMeta struct {
	ExposureSeconds float64
	Timestamp       time.Time
	Binning         int
	Gain            int
	Offset          int
	ISO             int
	SensorType      string
	FrameKind       device.FrameKind
	BayerPattern    string
}

// WriteFITS encodes the frame with its metadata and writes it atomically
// (temp file then rename) to path. Directory creation failures and write
// failures are real errors, never silently ignored.
func WriteFITS(path string, frame *device.Frame, meta FITSMeta) error {
	if frame == nil || len(frame.Data) == 0 {
		return errs.New(errs.InvalidArgument, "cannot write empty frame")
	}
	if frame.BitDepth != 8 && frame.BitDepth != 16 && frame.BitDepth != 32 {
		return errs.New(errs.Unsupported, "FITS encoding for bit depth %d", frame.BitDepth)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.PersistenceError, err, "creating artifact directory")
	}

	data, err := encodeFITS(frame, meta)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".fits-*")
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "creating temp artifact")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.PersistenceError, err, "writing artifact")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.PersistenceError, err, "closing artifact")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.PersistenceError, err, "renaming artifact into place")
	}
	return nil
}

func encodeFITS(frame *device.Frame, meta FITSMeta) ([]byte, error) {
	naxis := 2
	if frame.Channels == 3 {
		naxis = 3
	}

	cards := []string{
		card("SIMPLE", "T", "conforms to FITS standard"),
		card("BITPIX", fmt.Sprintf("%d", frame.BitDepth), "bits per pixel"),
		card("NAXIS", fmt.Sprintf("%d", naxis), "number of axes"),
		card("NAXIS1", fmt.Sprintf("%d", frame.Width), "image width"),
		card("NAXIS2", fmt.Sprintf("%d", frame.Height), "image height"),
	}
	if naxis == 3 {
		cards = append(cards, card("NAXIS3", "3", "color channels"))
	}
	if frame.BitDepth == 16 {
		// Unsigned 16-bit data stored as signed per convention.
		cards = append(cards,
			card("BZERO", "32768", "offset for unsigned data"),
			card("BSCALE", "1", ""))
	}
	cards = append(cards,
		card("EXPTIME", fmt.Sprintf("%g", meta.ExposureSeconds), "exposure seconds"),
		cardString("DATE-OBS", meta.Timestamp.UTC().Format("2006-01-02T15:04:05"), "observation start"),
		card("XBINNING", fmt.Sprintf("%d", meta.Binning), "horizontal binning"),
		card("YBINNING", fmt.Sprintf("%d", meta.Binning), "vertical binning"),
		card("GAIN", fmt.Sprintf("%d", meta.Gain), "sensor gain"),
		card("OFFSET", fmt.Sprintf("%d", meta.Offset), "sensor offset"),
	)
	if meta.ISO > 0 {
		cards = append(cards, card("ISOSPEED", fmt.Sprintf("%d", meta.ISO), "ISO speed"))
	}
	if meta.SensorType != "" {
		cards = append(cards, cardString("INSTRUME", meta.SensorType, "sensor"))
	}
	if meta.BayerPattern != "" {
		cards = append(cards, cardString("BAYERPAT", meta.BayerPattern, "bayer filter layout"))
	}
	cards = append(cards,
		cardString("IMAGETYP", string(meta.FrameKind), "frame kind"),
		cardString("SWCREATE", softwareID, "creating software"),
		fmt.Sprintf("%-80s", "END"),
	)

	header := strings.Join(cards, "")
	headerBytes := pad([]byte(header), fitsBlockSize, ' ')

	pixels, err := bigEndianPixels(frame)
	if err != nil {
		return nil, err
	}
	pixelBytes := pad(pixels, fitsBlockSize, 0)

	return append(headerBytes, pixelBytes...), nil
}

// bigEndianPixels converts the backend's little-endian buffer into FITS
// byte order. 16-bit samples also shift from unsigned to signed-with-BZERO.
func bigEndianPixels(frame *device.Frame) ([]byte, error) {
	switch frame.BitDepth {
	case 8:
		out := make([]byte, len(frame.Data))
		copy(out, frame.Data)
		return out, nil
	case 16:
		if len(frame.Data)%2 != 0 {
			return nil, errs.New(errs.ProtocolError, "16-bit frame with odd byte count")
		}
		out := make([]byte, len(frame.Data))
		for i := 0; i+1 < len(frame.Data); i += 2 {
			v := binary.LittleEndian.Uint16(frame.Data[i:])
			binary.BigEndian.PutUint16(out[i:], v^0x8000)
		}
		return out, nil
	case 32:
		if len(frame.Data)%4 != 0 {
			return nil, errs.New(errs.ProtocolError, "32-bit frame with truncated sample")
		}
		out := make([]byte, len(frame.Data))
		for i := 0; i+3 < len(frame.Data); i += 4 {
			v := binary.LittleEndian.Uint32(frame.Data[i:])
			binary.BigEndian.PutUint32(out[i:], v)
		}
		return out, nil
	}
	return nil, errs.New(errs.Unsupported, "bit depth %d", frame.BitDepth)
}

func card(key, value, comment string) string {
	c := fmt.Sprintf("%-8s= %20s", key, value)
	if comment != "" {
		c += " / " + comment
	}
	if len(c) > fitsCardSize {
		c = c[:fitsCardSize]
	}
	return fmt.Sprintf("%-80s", c)
}

func cardString(key, value, comment string) string {
	return card(key, fmt.Sprintf("'%s'", value), comment)
}

func pad(b []byte, block int, fill byte) []byte {
	rem := len(b) % block
	if rem == 0 {
		return b
	}
	padding := make([]byte, block-rem)
	if fill != 0 {
		for i := range padding {
			padding[i] = fill
		}
	}
	return append(b, padding...)
}
