package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Mode selects between one output per source and one concatenated output.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMerge  Mode = "merge"
)

// Codec is the user-facing video codec choice.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// Defaults applied by Normalize.
const (
	DefaultFormat    = "mp4"
	ResolutionOrigin = "original"
	maxFPS           = 240
	maxFormatLen     = 8
)

var (
	resolutionPattern = regexp.MustCompile(`^([1-9][0-9]{0,4})x([1-9][0-9]{0,4})$`)
	bitratePattern    = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([km]?)$`)
	formatPattern     = regexp.MustCompile(`^[a-z0-9]+$`)
)

// Settings is the typed transcode configuration stored with every job.
type Settings struct {
	Mode       Mode   `json:"mode"`
	Resolution string `json:"resolution"`
	Bitrate    string `json:"bitrate,omitempty"`
	FPS        int    `json:"fps,omitempty"`
	Codec      Codec  `json:"codec"`
	Format     string `json:"format"`

	// SourceCount is recorded for merge jobs only.
	SourceCount int `json:"source_count,omitempty"`
}

// DefaultSettings returns the configuration used when nothing is specified.
func DefaultSettings() Settings {
	return Settings{
		Mode:       ModeSingle,
		Resolution: ResolutionOrigin,
		Codec:      CodecH264,
		Format:     DefaultFormat,
	}
}

// rawSettings accepts numbers or strings for bitrate and fps, the way
// form-based clients tend to send them.
type rawSettings struct {
	Mode        string          `json:"mode"`
	Resolution  string          `json:"resolution"`
	Bitrate     json.RawMessage `json:"bitrate"`
	FPS         json.RawMessage `json:"fps"`
	Codec       string          `json:"codec"`
	Format      string          `json:"format"`
	SourceCount int             `json:"source_count"`
}

// UnmarshalJSON decodes loosely typed input and normalizes it.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw rawSettings
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	fps, _ := strconv.Atoi(strings.TrimSpace(scalarString(raw.FPS)))
	*s = Settings{
		Mode:        Mode(raw.Mode),
		Resolution:  raw.Resolution,
		Bitrate:     scalarString(raw.Bitrate),
		FPS:         fps,
		Codec:       Codec(raw.Codec),
		Format:      raw.Format,
		SourceCount: raw.SourceCount,
	}
	*s = s.Normalize()
	return nil
}

// DecodeSettings decodes a stored configuration blob. An empty blob yields
// defaults; a malformed one yields defaults plus the decode error.
func DecodeSettings(data []byte) (Settings, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return DefaultSettings(), nil
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// Encode serializes the settings for storage.
func (s Settings) Encode() ([]byte, error) {
	return json.Marshal(s.Normalize())
}

// Normalize replaces every unrecognized or out-of-range field with its default.
func (s Settings) Normalize() Settings {
	out := s

	switch Mode(strings.ToLower(strings.TrimSpace(string(s.Mode)))) {
	case ModeMerge:
		out.Mode = ModeMerge
	default:
		out.Mode = ModeSingle
	}

	out.Resolution = normalizeResolution(s.Resolution)
	out.Bitrate = normalizeBitrate(s.Bitrate)

	if s.FPS <= 0 || s.FPS > maxFPS {
		out.FPS = 0
	}

	switch Codec(strings.ToLower(strings.TrimSpace(string(s.Codec)))) {
	case CodecH265:
		out.Codec = CodecH265
	default:
		out.Codec = CodecH264
	}

	out.Format = normalizeFormat(s.Format)

	if s.SourceCount < 0 || out.Mode != ModeMerge {
		out.SourceCount = 0
	}
	return out
}

// Dimensions returns the target width and height, or ok=false for pass-through.
func (s Settings) Dimensions() (width, height int, ok bool) {
	m := resolutionPattern.FindStringSubmatch(s.Resolution)
	if m == nil {
		return 0, 0, false
	}
	width, _ = strconv.Atoi(m[1])
	height, _ = strconv.Atoi(m[2])
	return width, height, true
}

func normalizeResolution(r string) string {
	r = strings.ToLower(strings.TrimSpace(r))
	if resolutionPattern.MatchString(r) {
		return r
	}
	return ResolutionOrigin
}

// normalizeBitrate accepts "2500", "2500k", "2.5M", "2M bps" and returns an
// ffmpeg rate. Bare numbers are kilobits per second.
func normalizeBitrate(b string) string {
	b = strings.ToLower(strings.ReplaceAll(b, " ", ""))
	b = strings.TrimSuffix(b, "bps")
	b = strings.TrimSuffix(b, "b/s")
	m := bitratePattern.FindStringSubmatch(b)
	if m == nil {
		return ""
	}
	if v, err := strconv.ParseFloat(m[1], 64); err != nil || v <= 0 {
		return ""
	}
	switch m[2] {
	case "m":
		return m[1] + "M"
	default:
		return m[1] + "k"
	}
}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
	if f == "" || len(f) > maxFormatLen || !formatPattern.MatchString(f) {
		return DefaultFormat
	}
	return f
}

// scalarString renders a JSON string or number as plain text.
func scalarString(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return ""
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	return text
}
