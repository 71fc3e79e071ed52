package ascom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/starbridge/observatoryd/internal/errs"
)

// ConfiguredDevice is one entry from the Alpaca management API.
type ConfiguredDevice struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Number   int    `json:"number"`
	UniqueID string `json:"uniqueId,omitempty"`
}

// Scan queries the Alpaca management endpoint for configured devices,
// optionally filtered by device type (Camera, Telescope, Focuser,
// FilterWheel). An empty deviceType returns everything.
func Scan(ctx context.Context, host string, port int, deviceType string, timeout time.Duration) ([]ConfiguredDevice, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 11111
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	url := fmt.Sprintf("http://%s:%d/management/v1/configureddevices", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "building scan request")
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.NetworkError, err, "alpaca server at %s:%d unreachable", host, port)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.BackendError, "alpaca management API returned %s", resp.Status)
	}

	var body struct {
		Value []struct {
			DeviceName   string `json:"DeviceName"`
			DeviceType   string `json:"DeviceType"`
			DeviceNumber int    `json:"DeviceNumber"`
			UniqueID     string `json:"UniqueID"`
		} `json:"Value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Wrap(errs.ProtocolError, err, "decoding configured devices")
	}

	var out []ConfiguredDevice
	for _, d := range body.Value {
		if deviceType != "" && !strings.EqualFold(d.DeviceType, deviceType) {
			continue
		}
		out = append(out, ConfiguredDevice{
			Name:     d.DeviceName,
			Type:     d.DeviceType,
			Number:   d.DeviceNumber,
			UniqueID: d.UniqueID,
		})
	}
	return out, nil
}
