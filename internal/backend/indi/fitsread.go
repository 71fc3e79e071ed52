package indi

import (
	"os"
	"strconv"
	"strings"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

const fitsBlock = 2880

// readFrameFile parses the FITS file a driver wrote in local upload mode
// into a raw frame. Only the primary HDU is read; pixel data is converted
// to little-endian unsigned samples.
func readFrameFile(path string) (*device.Frame, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.DriverError, err, "reading frame file %s", path)
	}
	if len(raw) < fitsBlock {
		return nil, errs.New(errs.ProtocolError, "frame file %s is truncated", path)
	}

	headers := map[string]string{}
	offset := 0
	done := false
	for offset+fitsBlock <= len(raw) && !done {
		block := raw[offset : offset+fitsBlock]
		for i := 0; i < fitsBlock; i += 80 {
			card := string(block[i : i+80])
			key := strings.TrimSpace(card[:8])
			if key == "END" {
				done = true
				break
			}
			if len(card) < 10 || card[8] != '=' {
				continue
			}
			value := strings.TrimSpace(card[10:])
			if i := strings.IndexByte(value, '/'); i >= 0 {
				value = strings.TrimSpace(value[:i])
			}
			headers[key] = value
		}
		offset += fitsBlock
	}
	if !done {
		return nil, errs.New(errs.ProtocolError, "frame file %s has no header end marker", path)
	}

	bitpix, err := headerInt(headers, "BITPIX")
	if err != nil {
		return nil, err
	}
	naxis, err := headerInt(headers, "NAXIS")
	if err != nil {
		return nil, err
	}
	if naxis < 2 || naxis > 3 {
		return nil, errs.New(errs.ProtocolError, "unsupported image dimensionality %d", naxis)
	}
	width, err := headerInt(headers, "NAXIS1")
	if err != nil {
		return nil, err
	}
	height, err := headerInt(headers, "NAXIS2")
	if err != nil {
		return nil, err
	}
	channels := 1
	if naxis == 3 {
		if channels, err = headerInt(headers, "NAXIS3"); err != nil {
			return nil, err
		}
	}

	var bzero int64
	if raw, ok := headers["BZERO"]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			bzero = int64(v)
		}
	}

	bytesPerSample := bitpix / 8
	if bytesPerSample != 1 && bytesPerSample != 2 {
		return nil, errs.New(errs.ProtocolError, "unsupported bit depth %d", bitpix)
	}
	count := width * height * channels
	need := count * bytesPerSample
	if len(raw)-offset < need {
		return nil, errs.New(errs.ProtocolError, "frame file %s data section is short", path)
	}
	data := raw[offset : offset+need]

	out := make([]byte, need)
	if bytesPerSample == 1 {
		copy(out, data)
	} else {
		// Big-endian signed with BZERO offset back to little-endian
		// unsigned.
		for i := 0; i < count; i++ {
			signed := int16(uint16(data[2*i])<<8 | uint16(data[2*i+1]))
			sample := uint16(int64(signed) + bzero)
			out[2*i] = byte(sample)
			out[2*i+1] = byte(sample >> 8)
		}
	}

	return &device.Frame{
		Data:     out,
		Width:    width,
		Height:   height,
		Channels: channels,
		BitDepth: bitpix,
	}, nil
}

func headerInt(headers map[string]string, key string) (int, error) {
	raw, ok := headers[key]
	if !ok {
		return 0, errs.New(errs.ProtocolError, "frame header is missing %s", key)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Wrap(errs.ProtocolError, err, "bad %s value %q", key, raw)
	}
	return v, nil
}
