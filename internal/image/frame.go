// Package image assembles exposure results: histogram computation over the
// raw pixel buffer, FITS artifact encoding, and artifact naming. The raw
// frame is passed through untouched; color data is never demosaiced here.
package image

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Histogram buckets pixel intensities into 256 bins across the range
// implied by the frame's bit depth.
func Histogram(frame *device.Frame) ([]int, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, errs.New(errs.InvalidArgument, "empty frame")
	}
	bins := make([]int, 256)
	switch frame.BitDepth {
	case 8:
		for _, v := range frame.Data {
			bins[v]++
		}
	case 16:
		if len(frame.Data)%2 != 0 {
			return nil, errs.New(errs.ProtocolError, "16-bit frame with odd byte count")
		}
		for i := 0; i+1 < len(frame.Data); i += 2 {
			v := binary.LittleEndian.Uint16(frame.Data[i:])
			bins[v>>8]++
		}
	case 32:
		if len(frame.Data)%4 != 0 {
			return nil, errs.New(errs.ProtocolError, "32-bit frame with truncated sample")
		}
		for i := 0; i+3 < len(frame.Data); i += 4 {
			v := binary.LittleEndian.Uint32(frame.Data[i:])
			bins[v>>24]++
		}
	default:
		return nil, errs.New(errs.Unsupported, "histogram for bit depth %d", frame.BitDepth)
	}
	return bins, nil
}

// EncodeBase64 renders the raw pixel buffer for the wire.
func EncodeBase64(frame *device.Frame) string {
	return base64.StdEncoding.EncodeToString(frame.Data)
}

// ArtifactName renders the default artifact file name template
// Image_<sequenceName>_<index>_<timestamp>.<ext>.
func ArtifactName(sequence string, index int, kind string, at time.Time) string {
	if sequence == "" {
		sequence = "single"
	}
	sequence = strings.ReplaceAll(sequence, " ", "_")
	return fmt.Sprintf("Image_%s_%d_%s.%s", sequence, index, at.Format("20060102T150405"), kind)
}

// ArtifactPath joins the configured artifact directory with a rendered name.
func ArtifactPath(dir, name string) string {
	return filepath.Join(dir, name)
}
