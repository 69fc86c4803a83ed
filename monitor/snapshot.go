// Package monitor builds and renders a live view of darch's generation
// history and the currently in-progress build, generalizing the
// teacher's BuildStats/TopInfo polling loop (stats/types.go,
// build/ui_ncurses.go) from "active workers building ports" to "the
// generation a build is currently assembling and which step it is on."
package monitor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"darch/ledger"
	"darch/subvol"
)

// Snapshot is one point-in-time view of darch's state, analogous to the
// teacher's stats.TopInfo but scoped to a single build engine instead of
// a worker pool.
type Snapshot struct {
	Generations  []subvol.Generation
	ActiveBuild  *ledger.Record // nil when no build is running
	CurrentStep  string         // last step logged for ActiveBuild, if any
	PolledAt     time.Time
}

// Poller reads the state a Snapshot is built from. *subvol.Manager and
// *ledger.Ledger both already implement it; tests substitute fakes.
type Poller struct {
	Volumes  VolumeManager
	Ledger   LedgerReader
	LogsPath string
}

// VolumeManager is the subset of *subvol.Manager monitor depends on.
type VolumeManager interface {
	ListGenerations() ([]subvol.Generation, error)
}

// LedgerReader is the subset of *ledger.Ledger monitor depends on.
type LedgerReader interface {
	History() ([]*ledger.Record, error)
}

// Poll gathers one Snapshot. It never returns an error for "no active
// build" — that is a legitimate steady state — only for failures
// reading the generation list or ledger itself.
func (p *Poller) Poll() (*Snapshot, error) {
	gens, err := p.Volumes.ListGenerations()
	if err != nil {
		return nil, fmt.Errorf("monitor: list generations: %w", err)
	}

	records, err := p.Ledger.History()
	if err != nil {
		return nil, fmt.Errorf("monitor: read ledger history: %w", err)
	}

	snap := &Snapshot{Generations: gens, PolledAt: time.Now()}
	if active := latestRunning(records); active != nil {
		snap.ActiveBuild = active
		snap.CurrentStep = tailStep(p.LogsPath, active.Generation, active.UUID)
	}
	return snap, nil
}

// latestRunning returns the most recently started record still in
// "running" status, or nil if none is active. Ledger.History returns
// newest-first (see ledger.go), so the first running record found is it.
func latestRunning(records []*ledger.Record) *ledger.Record {
	for _, r := range records {
		if r.Status == "running" {
			return r
		}
	}
	return nil
}

// tailStep reads the last "Step: <name>" line a GenerationLogger wrote
// for this build attempt. A missing or unreadable log file yields an
// empty step rather than an error: the monitor is a best-effort view,
// never a source of truth.
func tailStep(logsPath string, generation int, buildID string) string {
	path := filepath.Join(logsPath, "generations", fmt.Sprintf("gen-%d-%s.log", generation, buildID))
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	step := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "Step: "); ok {
			step = rest
		}
	}
	return step
}

// sortedByNumberDescending returns gens sorted newest-first, the order
// the view displays generation history in.
func sortedByNumberDescending(gens []subvol.Generation) []subvol.Generation {
	out := append([]subvol.Generation(nil), gens...)
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out
}
