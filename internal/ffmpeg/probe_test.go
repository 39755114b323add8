package ffmpeg

import (
	"context"
	"math"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"format": {"format_name": "matroska,webm", "duration": "12.500000", "size": "20480"},
		"streams": [
			{"codec_type": "audio", "codec_name": "opus"},
			{"codec_type": "video", "codec_name": "vp8", "width": 1280, "height": 720, "r_frame_rate": "30/1"},
			{"codec_type": "video", "codec_name": "mjpeg", "width": 10, "height": 10}
		]
	}`)

	res, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if res.Duration != 12500*time.Millisecond {
		t.Errorf("expected 12.5s, got %v", res.Duration)
	}
	if res.Size != 20480 {
		t.Errorf("expected size 20480, got %d", res.Size)
	}
	if res.VideoCodec != "vp8" || res.AudioCodec != "opus" {
		t.Errorf("unexpected codecs %s/%s", res.VideoCodec, res.AudioCodec)
	}
	if res.Resolution() != "1280x720" {
		t.Errorf("expected 1280x720, got %s", res.Resolution())
	}
	if res.FrameRate != 30 {
		t.Errorf("expected 30 fps, got %v", res.FrameRate)
	}
}

func TestParseProbeOutputStreamDurationFallback(t *testing.T) {
	data := []byte(`{
		"format": {"format_name": "matroska,webm", "duration": "N/A"},
		"streams": [{"codec_type": "video", "codec_name": "vp9", "avg_frame_rate": "30000/1001", "duration": "4.0"}]
	}`)

	res, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if res.Duration != 4*time.Second {
		t.Errorf("expected stream duration fallback of 4s, got %v", res.Duration)
	}
	if math.Abs(res.FrameRate-29.97) > 0.01 {
		t.Errorf("expected ~29.97 fps, got %v", res.FrameRate)
	}
	if res.Resolution() != "" {
		t.Errorf("expected empty resolution, got %q", res.Resolution())
	}
}

func TestParseProbeOutputInvalid(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"30/1", 30},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"24/0", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.input); got != tt.expected {
			t.Errorf("parseFrameRate(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestProbeGeneratedFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffprobe test in short mode")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	path := generateClip(t, filepath.Join(t.TempDir(), "clip.mp4"), 2)

	res, err := NewProber("ffprobe").Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if res.Duration < 1500*time.Millisecond || res.Duration > 2500*time.Millisecond {
		t.Errorf("expected ~2s duration, got %v", res.Duration)
	}
	if res.Resolution() != "320x240" {
		t.Errorf("expected 320x240, got %s", res.Resolution())
	}
}
