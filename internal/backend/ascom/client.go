// Package ascom implements the device backend contract over the ASCOM
// Alpaca HTTP/JSON remoting protocol. One Client addresses one Alpaca
// server; per-kind adapters bind a device number on that server to the
// device-agnostic interfaces in internal/device.
package ascom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/errs"
)

// alpacaResponse is the envelope every Alpaca endpoint returns.
type alpacaResponse struct {
	Value               json.RawMessage `json:"Value"`
	ErrorNumber         int             `json:"ErrorNumber"`
	ErrorMessage        string          `json:"ErrorMessage"`
	ClientTransactionID int             `json:"ClientTransactionID"`
	ServerTransactionID int             `json:"ServerTransactionID"`
}

// Client is a low-level Alpaca protocol client for one remote server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *zap.Logger
	clientID    int32
	transaction int32
}

// NewClient creates a client for the Alpaca server at host:port.
func NewClient(host string, port int, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "ascom_client")),
		clientID:   1,
	}
}

func (c *Client) nextTransactionID() int32 {
	return atomic.AddInt32(&c.transaction, 1)
}

func (c *Client) endpoint(deviceType string, deviceNumber int, method string) string {
	return fmt.Sprintf("%s/api/v1/%s/%d/%s", c.baseURL, deviceType, deviceNumber, method)
}

// get executes a GET against a device property and decodes the value.
func (c *Client) get(ctx context.Context, deviceType string, deviceNumber int, method string, out interface{}) error {
	params := url.Values{}
	params.Add("ClientID", fmt.Sprintf("%d", c.clientID))
	params.Add("ClientTransactionID", fmt.Sprintf("%d", c.nextTransactionID()))

	fullURL := fmt.Sprintf("%s?%s", c.endpoint(deviceType, deviceNumber, method), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "building request for %s", method)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "GET %s failed", method)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "reading %s response", method)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.DriverError, "GET %s returned HTTP %d", method, resp.StatusCode)
	}

	var envelope alpacaResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errs.Wrap(errs.ProtocolError, err, "unparseable %s response", method)
	}
	if envelope.ErrorNumber != 0 {
		return driverError(envelope.ErrorNumber, envelope.ErrorMessage, method)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Value, out); err != nil {
			return errs.Wrap(errs.ProtocolError, err, "unexpected value type for %s", method)
		}
	}
	return nil
}

// put executes a PUT against a device method with form-encoded parameters.
func (c *Client) put(ctx context.Context, deviceType string, deviceNumber int, method string, params map[string]interface{}) error {
	form := url.Values{}
	form.Add("ClientID", fmt.Sprintf("%d", c.clientID))
	form.Add("ClientTransactionID", fmt.Sprintf("%d", c.nextTransactionID()))
	for key, value := range params {
		form.Add(key, fmt.Sprintf("%v", value))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.endpoint(deviceType, deviceNumber, method), bytes.NewBufferString(form.Encode()))
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "building request for %s", method)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "PUT %s failed", method)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "reading %s response", method)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.DriverError, "PUT %s returned HTTP %d", method, resp.StatusCode)
	}

	var envelope alpacaResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errs.Wrap(errs.ProtocolError, err, "unparseable %s response", method)
	}
	if envelope.ErrorNumber != 0 {
		return driverError(envelope.ErrorNumber, envelope.ErrorMessage, method)
	}
	return nil
}

// Alpaca error numbers, per the ASCOM specification.
const (
	alpacaNotImplemented = 0x400
	alpacaInvalidValue   = 0x401
	alpacaNotConnected   = 0x407
)

func driverError(number int, message, method string) error {
	kind := errs.DriverError
	switch number {
	case alpacaNotImplemented:
		kind = errs.Unsupported
	case alpacaInvalidValue:
		kind = errs.InvalidArgument
	case alpacaNotConnected:
		kind = errs.NotConnected
	}
	return &errs.Error{
		Kind:       kind,
		Message:    fmt.Sprintf("%s rejected by driver", method),
		Diagnostic: fmt.Sprintf("error %d: %s", number, message),
	}
}

// setConnected flips the common Connected property.
func (c *Client) setConnected(ctx context.Context, deviceType string, deviceNumber int, connected bool) error {
	return c.put(ctx, deviceType, deviceNumber, "connected", map[string]interface{}{
		"Connected": connected,
	})
}

// description reads the common Description property.
func (c *Client) description(ctx context.Context, deviceType string, deviceNumber int) (string, error) {
	var desc string
	if err := c.get(ctx, deviceType, deviceNumber, "description", &desc); err != nil {
		return "", err
	}
	return desc, nil
}

// driverInfo reads the common DriverInfo property.
func (c *Client) driverInfo(ctx context.Context, deviceType string, deviceNumber int) (string, error) {
	var info string
	if err := c.get(ctx, deviceType, deviceNumber, "driverinfo", &info); err != nil {
		return "", err
	}
	return info, nil
}

// boolProp reads a boolean property, mapping NotImplemented to false.
// Used during capability discovery where absence simply means "cannot".
func (c *Client) boolProp(ctx context.Context, deviceType string, deviceNumber int, method string) (bool, error) {
	var v bool
	err := c.get(ctx, deviceType, deviceNumber, method, &v)
	if err != nil {
		if errs.IsKind(err, errs.Unsupported) {
			return false, nil
		}
		return false, err
	}
	return v, nil
}
