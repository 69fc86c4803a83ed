package subvol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"darch/manifest"
)

var genDirPattern = regexp.MustCompile(`^gen-([0-9]+)$`)

// Generation describes one entry under the images directory.
type Generation struct {
	Number    int
	Path      string
	Complete  bool
	Manifest  *manifest.Manifest // nil unless Complete
	CreatedAt os.FileInfo
}

// Manager enumerates and mutates the numbered generations living under
// one images directory, layering generation-number bookkeeping and the
// config.json completeness check on top of the raw create/snapshot/
// delete/list primitives above.
type Manager struct {
	ImagesDir string
}

// NewManager returns a Manager rooted at imagesDir (config.Config's
// ImagesDir(), conventionally <image>/@images).
func NewManager(imagesDir string) *Manager {
	return &Manager{ImagesDir: imagesDir}
}

// Path returns the absolute path of generation n.
func (m *Manager) Path(n int) string {
	return filepath.Join(m.ImagesDir, fmt.Sprintf("gen-%d", n))
}

// ListGenerations enumerates gen-N entries under ImagesDir, sorted
// ascending by number, loading each one's manifest if it is complete.
func (m *Manager) ListGenerations() ([]Generation, error) {
	entries, err := os.ReadDir(m.ImagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &CommandFailed{Op: "list-generations", Path: m.ImagesDir, Err: err}
	}

	var gens []Generation
	for _, entry := range entries {
		match := genDirPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}

		path := filepath.Join(m.ImagesDir, entry.Name())
		g := Generation{Number: n, Path: path}

		info, err := entry.Info()
		if err == nil {
			g.CreatedAt = info
		}

		manifestPath := filepath.Join(path, "config.json")
		if mf, err := manifest.Load(manifestPath); err == nil {
			g.Complete = true
			g.Manifest = mf
		}

		gens = append(gens, g)
	}

	sort.Slice(gens, func(i, j int) bool { return gens[i].Number < gens[j].Number })
	return gens, nil
}

// NextNumber returns 1 + the highest existing generation number, or 1
// if none exist.
func (m *Manager) NextNumber() (int, error) {
	gens, err := m.ListGenerations()
	if err != nil {
		return 0, err
	}
	if len(gens) == 0 {
		return 1, nil
	}
	return gens[len(gens)-1].Number + 1, nil
}

// LatestComplete returns the highest-numbered complete generation, or
// nil if none exists.
func (m *Manager) LatestComplete() (*Generation, error) {
	gens, err := m.ListGenerations()
	if err != nil {
		return nil, err
	}
	for i := len(gens) - 1; i >= 0; i-- {
		if gens[i].Complete {
			return &gens[i], nil
		}
	}
	return nil, nil
}

// Create makes an empty subvolume for generation n.
func (m *Manager) Create(ctx context.Context, n int) error {
	return Create(ctx, m.Path(n))
}

// Snapshot creates generation dst as a writable snapshot of generation src.
func (m *Manager) Snapshot(ctx context.Context, src, dst int) error {
	return Snapshot(ctx, m.Path(src), m.Path(dst))
}

// Delete removes generation n's subvolume. Idempotent: a missing
// generation is success.
func (m *Manager) Delete(ctx context.Context, n int) error {
	return Delete(ctx, m.Path(n))
}
