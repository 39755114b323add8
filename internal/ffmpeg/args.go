package ffmpeg

import (
	"strings"

	"github.com/gwlsn/clipshrink/internal/planner"
)

// BuildArgs constructs the ffmpeg argument list for a plan. Merge plans
// read their inputs through the staged concat manifest.
//
// Structure: preamble, input(s), progress reporting, filters, rate and
// frame-rate options, codec + tag, container options, output.
func BuildArgs(p *planner.Plan) []string {
	args := make([]string, 0, 32)

	args = append(args, "-hide_banner", "-nostdin", "-y", "-loglevel", "error")

	if p.IsMerge() {
		args = append(args, "-f", "concat", "-safe", "0", "-i", p.Manifest)
	} else {
		for _, in := range p.Inputs {
			args = append(args, "-i", in)
		}
	}

	args = append(args, "-progress", "pipe:1", "-nostats")

	var videoFilters, outputOpts []string
	for _, f := range p.Filters {
		switch f.Kind {
		case planner.FilterScale:
			videoFilters = append(videoFilters, "scale="+f.Value)
		case planner.FilterBitrate:
			outputOpts = append(outputOpts, "-b:v", f.Value)
		case planner.FilterFrameRate:
			outputOpts = append(outputOpts, "-r", f.Value)
		}
	}
	if len(videoFilters) > 0 {
		args = append(args, "-vf", strings.Join(videoFilters, ","))
	}
	args = append(args, outputOpts...)

	args = append(args, "-c:v", p.Codec.Encoder)
	if p.Codec.Tag != "" {
		args = append(args, "-tag:v", p.Codec.Tag)
	}

	args = append(args, p.ContainerOpts...)
	args = append(args, p.OutputPath)
	return args
}
