package device

import (
	"context"
)

// SolveParams describes one plate-solving request. Either ImagePath or the
// raw Image buffer is set. Hint fields narrow the search when known.
type SolveParams struct {
	ImagePath  string  `json:"imagePath,omitempty"`
	Image      []byte  `json:"-"`
	RAHint     float64 `json:"raHint,omitempty"`
	DecHint    float64 `json:"decHint,omitempty"`
	RadiusHint float64 `json:"radiusHint,omitempty"`
	ScaleLow   float64 `json:"scaleLow,omitempty"`
	ScaleHigh  float64 `json:"scaleHigh,omitempty"`
	Downsample int     `json:"downsample,omitempty"`
}

// SolveResult is the astrometric solution.
type SolveResult struct {
	RA           float64 `json:"ra"`
	Dec          float64 `json:"dec"`
	PixelScale   float64 `json:"pixelScale"`
	Orientation  float64 `json:"orientation"`
	ArtifactPath string  `json:"artifactPath,omitempty"`
}

// Solver marshals a plate-solving request to an external collaborator.
// Cancellation is cooperative via ctx: the online flavor drops its poll
// loop, the offline flavor kills the solver process.
type Solver interface {
	Solve(ctx context.Context, params SolveParams) (*SolveResult, error)
}
