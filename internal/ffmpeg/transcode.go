package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gwlsn/clipshrink/internal/logger"
	"github.com/gwlsn/clipshrink/internal/planner"
)

// Progress represents the current transcoding progress
type Progress struct {
	Frame    int64         `json:"frame"`
	Time     time.Duration `json:"time"`     // Current position in output
	Speed    float64       `json:"speed"`    // Encoding speed (1.0 = realtime)
	Fraction float64       `json:"fraction"` // 0.0-1.0, may overshoot slightly
	ETA      time.Duration `json:"eta"`
}

// TranscodeError is an engine failure. Its message carries the last line
// ffmpeg wrote to stderr, which is what users see on a failed job.
type TranscodeError struct {
	Err    error
	Stderr string
	Frames int64 // Frames processed before failure
}

func (e *TranscodeError) Error() string {
	if tail := lastLine(e.Stderr); tail != "" {
		return fmt.Sprintf("%v: %s", e.Err, tail)
	}
	return e.Err.Error()
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// Transcoder runs plans through an ffmpeg binary
type Transcoder struct {
	ffmpegPath string
	prober     *Prober
}

// NewTranscoder creates a Transcoder. prober may be nil, in which case
// plans with unknown duration report progress only at the end.
func NewTranscoder(ffmpegPath string, prober *Prober) *Transcoder {
	return &Transcoder{ffmpegPath: ffmpegPath, prober: prober}
}

// Available reports whether the ffmpeg binary can be found.
func Available(ffmpegPath string) error {
	_, err := exec.LookPath(ffmpegPath)
	return err
}

// Transcode runs the plan and blocks until ffmpeg exits. Every progress
// report is delivered unless ctx ends first; nothing is sent after
// Transcode returns. The partial
// output is removed on failure.
func (t *Transcoder) Transcode(ctx context.Context, p *planner.Plan, progressCh chan<- Progress) error {
	if p.IsMerge() && p.Manifest == "" {
		return errors.New("merge plan has no staged manifest")
	}

	duration := p.Duration
	if duration <= 0 && t.prober != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		d, err := t.prober.Duration(probeCtx, p.Inputs)
		cancel()
		if err != nil {
			logger.Warn("Could not determine input duration", "error", err)
		}
		duration = d
	}

	args := BuildArgs(p)
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	logger.Debug("FFmpeg command", "args", strings.Join(args, " "))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// All pipe reads must finish before Wait.
	frames := parseProgress(ctx, stdout, duration, progressCh)

	if err := cmd.Wait(); err != nil {
		os.Remove(p.OutputPath)
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg stopped: %w", context.Cause(ctx))
		}
		stderrOutput := stderr.String()
		logger.Error("FFmpeg failed", "error", err, "stderr", lastLine(stderrOutput))
		return &TranscodeError{
			Err:    fmt.Errorf("ffmpeg failed: %w", err),
			Stderr: stderrOutput,
			Frames: frames,
		}
	}

	return nil
}

// parseProgress reads "-progress pipe:1" key=value blocks until EOF and
// returns the last frame count seen. Sends stop once ctx is done, but the
// reader is still drained.
func parseProgress(ctx context.Context, r io.Reader, duration time.Duration, progressCh chan<- Progress) int64 {
	scanner := bufio.NewScanner(r)
	var current Progress

	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "frame":
			current.Frame, _ = strconv.ParseInt(value, 10, 64)
		case "out_time_us":
			if value != "N/A" {
				us, _ := strconv.ParseInt(value, 10, 64)
				current.Time = time.Duration(us) * time.Microsecond
			}
		case "speed":
			if value != "N/A" {
				current.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
			}
		case "progress":
			switch value {
			case "continue":
				if duration > 0 && current.Time > 0 {
					current.Fraction = float64(current.Time) / float64(duration)
				}
				current.ETA = 0
				if current.Speed > 0 && duration > current.Time {
					current.ETA = time.Duration(float64(duration-current.Time) / current.Speed)
				}
			case "end":
				current.Fraction = 1
				current.ETA = 0
			default:
				continue
			}

			select {
			case progressCh <- current:
			case <-ctx.Done():
			}
		}
	}

	return current.Frame
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
