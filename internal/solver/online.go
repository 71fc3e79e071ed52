// Package solver marshals plate-solving requests to external
// collaborators: the nova.astrometry.net web service or a local
// solve-field process. Both flavors satisfy device.Solver.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// DefaultAPIURL is the public astrometry.net endpoint.
const DefaultAPIURL = "https://nova.astrometry.net/api/"

// Online solves through the astrometry.net web API: login, upload, then
// poll the submission and job until a calibration is available.
type Online struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	session    string
}

// NewOnline creates a web API solver. apiKey is the account key issued by
// the service.
func NewOnline(apiURL, apiKey string, logger *zap.Logger) *Online {
	if logger == nil {
		logger = zap.NewNop()
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Online{
		apiURL:     strings.TrimSuffix(apiURL, "/") + "/",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With(zap.String("component", "online_solver")),
	}
}

// Solve runs the full login, upload, poll choreography. Cancellation via
// ctx abandons the poll loop.
func (o *Online) Solve(ctx context.Context, params device.SolveParams) (*device.SolveResult, error) {
	if o.apiKey == "" {
		return nil, errs.New(errs.InvalidArgument, "online solving requires an api key")
	}
	image := params.Image
	if image == nil {
		if params.ImagePath == "" {
			return nil, errs.New(errs.InvalidArgument, "either an image buffer or an image path is required")
		}
		var err error
		image, err = os.ReadFile(params.ImagePath)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, err, "reading image %s", params.ImagePath)
		}
	}

	if err := o.login(ctx); err != nil {
		return nil, err
	}
	subID, err := o.upload(ctx, image, filepath.Base(params.ImagePath), params)
	if err != nil {
		return nil, err
	}
	jobID, err := o.waitForJob(ctx, subID)
	if err != nil {
		return nil, err
	}
	return o.waitForCalibration(ctx, jobID)
}

func (o *Online) login(ctx context.Context) error {
	var out struct {
		Status  string `json:"status"`
		Session string `json:"session"`
		Message string `json:"errormessage"`
	}
	if err := o.post(ctx, "login", map[string]interface{}{"apikey": o.apiKey}, &out); err != nil {
		return err
	}
	if out.Status != "success" {
		return errs.New(errs.BackendError, "solver login failed: %s", out.Message)
	}
	o.session = out.Session
	o.logger.Debug("solver session opened")
	return nil
}

func (o *Online) upload(ctx context.Context, image []byte, filename string, params device.SolveParams) (int64, error) {
	args := map[string]interface{}{
		"session":          o.session,
		"publicly_visible": "n",
		"allow_modifications": "d",
		"allow_commercial_use": "d",
	}
	if params.ScaleLow > 0 && params.ScaleHigh > 0 {
		args["scale_units"] = "arcsecperpix"
		args["scale_type"] = "ul"
		args["scale_lower"] = params.ScaleLow
		args["scale_upper"] = params.ScaleHigh
	}
	if params.RadiusHint > 0 {
		args["center_ra"] = params.RAHint * 15
		args["center_dec"] = params.DecHint
		args["radius"] = params.RadiusHint
	}
	if params.Downsample > 1 {
		args["downsample_factor"] = params.Downsample
	}
	reqJSON, err := json.Marshal(args)
	if err != nil {
		return 0, errs.Wrap(errs.ProtocolError, err, "encoding upload request")
	}

	if filename == "" || filename == "." {
		filename = "frame.fits"
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("request-json", string(reqJSON)); err != nil {
		return 0, errs.Wrap(errs.ProtocolError, err, "building upload form")
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return 0, errs.Wrap(errs.ProtocolError, err, "building upload form")
	}
	if _, err := part.Write(image); err != nil {
		return 0, errs.Wrap(errs.ProtocolError, err, "building upload form")
	}
	if err := writer.Close(); err != nil {
		return 0, errs.Wrap(errs.ProtocolError, err, "building upload form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL+"upload", &body)
	if err != nil {
		return 0, errs.Wrap(errs.NetworkError, err, "building upload request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.NetworkError, err, "uploading image")
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Status string `json:"status"`
		SubID  int64  `json:"subid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errs.Wrap(errs.ProtocolError, err, "unparseable upload response")
	}
	if out.Status != "success" {
		return 0, errs.New(errs.BackendError, "solver rejected the upload")
	}
	o.logger.Info("image submitted for solving", zap.Int64("submission", out.SubID))
	return out.SubID, nil
}

// waitForJob polls the submission until the service assigns a job.
func (o *Online) waitForJob(ctx context.Context, subID int64) (int64, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		var out struct {
			Jobs []*int64 `json:"jobs"`
		}
		if err := o.getJSON(ctx, fmt.Sprintf("submissions/%d", subID), &out); err != nil {
			return 0, err
		}
		for _, job := range out.Jobs {
			if job != nil {
				return *job, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, errs.Wrap(errs.Aborted, ctx.Err(), "solve cancelled")
		case <-ticker.C:
		}
	}
}

// waitForCalibration polls the job until it succeeds or fails.
func (o *Online) waitForCalibration(ctx context.Context, jobID int64) (*device.SolveResult, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		var status struct {
			Status string `json:"status"`
		}
		if err := o.getJSON(ctx, fmt.Sprintf("jobs/%d", jobID), &status); err != nil {
			return nil, err
		}
		switch status.Status {
		case "success":
			var cal struct {
				RA          float64 `json:"ra"`
				Dec         float64 `json:"dec"`
				PixScale    float64 `json:"pixscale"`
				Orientation float64 `json:"orientation"`
			}
			if err := o.getJSON(ctx, fmt.Sprintf("jobs/%d/calibration", jobID), &cal); err != nil {
				return nil, err
			}
			return &device.SolveResult{
				RA:          cal.RA / 15,
				Dec:         cal.Dec,
				PixelScale:  cal.PixScale,
				Orientation: cal.Orientation,
			}, nil
		case "failure":
			return nil, errs.New(errs.BackendError, "solver could not match the field")
		}
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Aborted, ctx.Err(), "solve cancelled")
		case <-ticker.C:
		}
	}
}

// post sends one request-json form call.
func (o *Online) post(ctx context.Context, service string, args map[string]interface{}, out interface{}) error {
	reqJSON, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.ProtocolError, err, "encoding %s request", service)
	}
	form := url.Values{"request-json": {string(reqJSON)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL+service,
		strings.NewReader(form.Encode()))
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "building %s request", service)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return o.do(req, service, out)
}

func (o *Online) getJSON(ctx context.Context, service string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiURL+service, nil)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "building %s request", service)
	}
	return o.do(req, service, out)
}

func (o *Online) do(req *http.Request, service string, out interface{}) error {
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "%s failed", service)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "reading %s response", service)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.BackendError, "%s returned HTTP %d", service, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return errs.Wrap(errs.ProtocolError, err, "unparseable %s response", service)
		}
	}
	return nil
}

var _ device.Solver = (*Online)(nil)
