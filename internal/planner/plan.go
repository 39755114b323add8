package planner

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FilterKind identifies an output directive in a Plan.
type FilterKind string

const (
	FilterScale     FilterKind = "scale"
	FilterBitrate   FilterKind = "bitrate"
	FilterFrameRate FilterKind = "fps"
)

// Filter is one ordered output directive.
type Filter struct {
	Kind  FilterKind `json:"kind"`
	Value string     `json:"value"`
}

// CodecDirective names the encoder and the optional container tag it needs.
type CodecDirective struct {
	Encoder string `json:"encoder"`
	Tag     string `json:"tag,omitempty"`
}

// Encoders used by CodecFor.
const (
	EncoderH264 = "libx264"
	EncoderH265 = "libx265"
	tagHEVC     = "hvc1"
)

// Source is a recording as the compiler sees it.
type Source struct {
	ID       string
	Path     string
	Duration time.Duration
}

// Plan is the engine-agnostic description of one job.
type Plan struct {
	Mode          Mode           `json:"mode"`
	Inputs        []string       `json:"inputs"`
	Filters       []Filter       `json:"filters"`
	Codec         CodecDirective `json:"codec"`
	Format        string         `json:"format"`
	ContainerOpts []string       `json:"container_opts,omitempty"`
	OutputPath    string         `json:"output_path"`
	Stamp         int64          `json:"stamp"`

	// Duration is the summed source duration, zero when any source is unknown.
	Duration time.Duration `json:"duration"`

	// Manifest is the concat list path. Set by staging before dispatch.
	Manifest string `json:"manifest,omitempty"`
}

// IsMerge reports whether the plan concatenates several inputs.
func (p *Plan) IsMerge() bool {
	return p.Mode == ModeMerge
}

// InvalidPlanError is returned when a plan cannot be built at all.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return "invalid plan: " + e.Reason
}

// Compiler builds plans. OutputDir, when set, overrides the default of
// writing next to the first source.
type Compiler struct {
	OutputDir string
}

// Compile builds a plan for the given sources. More than one source always
// yields a merge plan over the sources in the order given.
func (c *Compiler) Compile(sources []Source, s Settings, stamp int64) (*Plan, error) {
	if len(sources) == 0 {
		return nil, &InvalidPlanError{Reason: "no sources"}
	}
	s = s.Normalize()

	plan := &Plan{
		Mode:    ModeSingle,
		Filters: BuildFilters(s),
		Codec:   CodecFor(s.Codec),
		Format:  s.Format,
		Stamp:   stamp,
	}
	if len(sources) > 1 {
		plan.Mode = ModeMerge
	}

	for _, src := range sources {
		plan.Inputs = append(plan.Inputs, src.Path)
	}
	plan.Duration = totalDuration(sources)

	switch s.Format {
	case "mp4", "mov", "m4v":
		plan.ContainerOpts = []string{"-movflags", "+faststart"}
	}

	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Dir(sources[0].Path)
	}
	plan.OutputPath = filepath.Join(dir, OutputName(sources, s, stamp))

	return plan, nil
}

// CodecFor maps a codec choice to an encoder. Every value other than h265
// maps to the h264 encoder.
func CodecFor(c Codec) CodecDirective {
	if Codec(strings.ToLower(string(c))) == CodecH265 {
		return CodecDirective{Encoder: EncoderH265, Tag: tagHEVC}
	}
	return CodecDirective{Encoder: EncoderH264}
}

// BuildFilters returns the output directives in application order:
// scale, bitrate, frame rate.
func BuildFilters(s Settings) []Filter {
	var filters []Filter
	if w, h, ok := s.Dimensions(); ok {
		filters = append(filters, Filter{Kind: FilterScale, Value: fmt.Sprintf("%d:%d", w, h)})
	}
	if s.Bitrate != "" {
		filters = append(filters, Filter{Kind: FilterBitrate, Value: s.Bitrate})
	}
	if s.FPS > 0 {
		filters = append(filters, Filter{Kind: FilterFrameRate, Value: strconv.Itoa(s.FPS)})
	}
	return filters
}

// OutputName derives the output file name from the sources, settings and stamp.
func OutputName(sources []Source, s Settings, stamp int64) string {
	s = s.Normalize()
	if len(sources) > 1 {
		return fmt.Sprintf("merged_%d_files_%d.%s", len(sources), stamp, s.Format)
	}
	base := filepath.Base(sources[0].Path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_compressed_%s_%d.%s", name, s.Resolution, stamp, s.Format)
}

func totalDuration(sources []Source) time.Duration {
	var total time.Duration
	for _, src := range sources {
		if src.Duration <= 0 {
			return 0
		}
		total += src.Duration
	}
	return total
}
