package solver

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Offline solves by spawning a local solve-field process. The process is
// killed when ctx is cancelled. Stdout is kept in a bounded ring so a
// chatty solver cannot grow memory without limit.
type Offline struct {
	binary string
	logger *zap.Logger
}

// NewOffline creates a local solver around the given binary. An empty
// binary defaults to solve-field on PATH.
func NewOffline(binary string, logger *zap.Logger) *Offline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if binary == "" {
		binary = "solve-field"
	}
	return &Offline{
		binary: binary,
		logger: logger.With(zap.String("component", "offline_solver")),
	}
}

// outputRing keeps the most recent lines of solver output for diagnostics
// and result parsing.
type outputRing struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newOutputRing(limit int) *outputRing {
	return &outputRing{limit: limit}
}

func (r *outputRing) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.limit {
		r.lines = r.lines[len(r.lines)-r.limit:]
	}
}

func (r *outputRing) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

var (
	fieldCenterRe = regexp.MustCompile(`Field center: \(RA,Dec\) = \(([\d.+-]+), ([\d.+-]+)\) deg`)
	rotationRe    = regexp.MustCompile(`Field rotation angle: up is ([\d.+-]+) degrees`)
	pixelScaleRe  = regexp.MustCompile(`pixel scale ([\d.]+) arcsec/pix`)
)

// Solve spawns the solver and parses the solution out of its stdout.
func (o *Offline) Solve(ctx context.Context, params device.SolveParams) (*device.SolveResult, error) {
	imagePath := params.ImagePath
	if imagePath == "" {
		if params.Image == nil {
			return nil, errs.New(errs.InvalidArgument, "either an image buffer or an image path is required")
		}
		tmp, err := os.CreateTemp("", "solve-*.fits")
		if err != nil {
			return nil, errs.Wrap(errs.PersistenceError, err, "staging image for solver")
		}
		defer func() { _ = os.Remove(tmp.Name()) }()
		if _, err := tmp.Write(params.Image); err != nil {
			_ = tmp.Close()
			return nil, errs.Wrap(errs.PersistenceError, err, "staging image for solver")
		}
		_ = tmp.Close()
		imagePath = tmp.Name()
	}

	args := []string{"--overwrite", "--no-plots", "--no-verify"}
	if params.RadiusHint > 0 {
		args = append(args,
			"--ra", strconv.FormatFloat(params.RAHint*15, 'f', -1, 64),
			"--dec", strconv.FormatFloat(params.DecHint, 'f', -1, 64),
			"--radius", strconv.FormatFloat(params.RadiusHint, 'f', -1, 64))
	}
	if params.ScaleLow > 0 && params.ScaleHigh > 0 {
		args = append(args,
			"--scale-units", "arcsecperpix",
			"--scale-low", strconv.FormatFloat(params.ScaleLow, 'f', -1, 64),
			"--scale-high", strconv.FormatFloat(params.ScaleHigh, 'f', -1, 64))
	}
	if params.Downsample > 1 {
		args = append(args, "--downsample", strconv.Itoa(params.Downsample))
	}
	args = append(args, imagePath)

	cmd := exec.CommandContext(ctx, o.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "wiring solver output")
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "starting %s", o.binary)
	}
	o.logger.Info("solver started", zap.String("binary", o.binary), zap.String("image", imagePath))

	ring := newOutputRing(200)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		ring.add(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.Aborted, ctx.Err(), "solve cancelled")
		}
		return nil, &errs.Error{
			Kind:       errs.BackendError,
			Message:    "solver process failed",
			Diagnostic: fmt.Sprintf("%v; last output: %v", err, tail(ring.snapshot(), 5)),
		}
	}

	result := &device.SolveResult{}
	solved := false
	for _, line := range ring.snapshot() {
		if m := fieldCenterRe.FindStringSubmatch(line); m != nil {
			ra, err1 := strconv.ParseFloat(m[1], 64)
			dec, err2 := strconv.ParseFloat(m[2], 64)
			if err1 == nil && err2 == nil {
				result.RA = ra / 15
				result.Dec = dec
				solved = true
			}
		}
		if m := rotationRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				result.Orientation = v
			}
		}
		if m := pixelScaleRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				result.PixelScale = v
			}
		}
	}
	if !solved {
		return nil, errs.New(errs.BackendError, "solver could not match the field")
	}

	wcs := wcsPath(imagePath)
	if _, err := os.Stat(wcs); err == nil {
		result.ArtifactPath = wcs
	}
	return result, nil
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func wcsPath(imagePath string) string {
	ext := ""
	for i := len(imagePath) - 1; i >= 0; i-- {
		if imagePath[i] == '.' {
			ext = imagePath[i:]
			break
		}
		if imagePath[i] == '/' {
			break
		}
	}
	if ext == "" {
		return imagePath + ".wcs"
	}
	return imagePath[:len(imagePath)-len(ext)] + ".wcs"
}

var _ device.Solver = (*Offline)(nil)
