// Package staging prepares and removes the transient files a plan needs
// before the engine starts, currently the concat manifest for merge jobs.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gwlsn/clipshrink/internal/logger"
	"github.com/gwlsn/clipshrink/internal/metrics"
	"github.com/gwlsn/clipshrink/internal/planner"
)

// Stager writes manifests into Dir, or next to the first input when Dir is empty.
type Stager struct {
	Dir string
}

// NewStager creates a Stager.
func NewStager(dir string) *Stager {
	return &Stager{Dir: dir}
}

// Artifact is the staged state for one job. Cleanup is safe to call more
// than once and on a nil Artifact.
type Artifact struct {
	path string
	once sync.Once
}

// Path returns the manifest path, or "" for plans that need no staging.
func (a *Artifact) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Prepare writes the manifest for merge plans and records its path on the
// plan. Single-input plans are left untouched.
func (s *Stager) Prepare(p *planner.Plan) (*Artifact, error) {
	if !p.IsMerge() {
		return &Artifact{}, nil
	}
	if len(p.Inputs) == 0 {
		return nil, errors.New("merge plan has no inputs")
	}

	dir := s.Dir
	if dir == "" {
		dir = filepath.Dir(p.Inputs[0])
	}
	path := filepath.Join(dir, ManifestName(p.Stamp))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	if _, err := f.WriteString(ManifestContent(p.Inputs)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close manifest: %w", err)
	}

	p.Manifest = path
	logger.Debug("Manifest staged", "path", path, "inputs", len(p.Inputs))
	return &Artifact{path: path}, nil
}

// Cleanup removes the manifest once. Failures are logged and counted,
// never returned.
func (a *Artifact) Cleanup() {
	if a == nil || a.path == "" {
		return
	}
	a.once.Do(func() {
		if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
			metrics.StagingCleanupFailuresTotal.Inc()
			logger.Warn("Failed to remove manifest", "path", a.path, "error", err)
			return
		}
		logger.Debug("Manifest removed", "path", a.path)
	})
}

// ManifestName is the file name of the manifest for a plan stamp.
func ManifestName(stamp int64) string {
	return fmt.Sprintf("concat_list_%d.txt", stamp)
}

// ManifestContent renders concat demuxer lines for the inputs, in order.
func ManifestContent(inputs []string) string {
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(in, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}
