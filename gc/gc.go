// Package gc prunes generations by completeness, age, and count,
// generalizing the teacher's stale-worker-directory sweep
// (service.Cleanup's "SL.*"-prefix scan over BuildBase) from "remove
// crashed workers" to "remove incomplete generations, then age/count-
// prune the complete ones." Where the teacher best-effort-unmounts a
// fixed list of named subdirectories before RemoveAll, this package
// deletes whole btrfs subvolumes through subvol.Manager, which already
// carries its own idempotent-delete and not-a-subvolume guards.
package gc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"darch/subvol"
)

// Policy holds the count/age thresholds the algorithm in §4.9 is
// parameterized over. Zero-valued Policy fields are invalid; set every
// field explicitly (the service layer fills them from config.Config).
type Policy struct {
	KeepMin int
	KeepMax int
	MinAge  time.Duration
	MaxAge  time.Duration
}

// Result reports what a single GC pass did.
type Result struct {
	IncompleteDeleted []int
	AgedOutDeleted    []int
	Kept              []int
}

// VolumeManager is the subset of *subvol.Manager GC depends on.
type VolumeManager interface {
	ListGenerations() ([]subvol.Generation, error)
	Delete(ctx context.Context, n int) error
}

// Collector runs the garbage-collection algorithm against one
// VolumeManager.
type Collector struct {
	Volumes  VolumeManager
	Policy   Policy
	Protect  func(n int) bool // reports whether generation n is the live host's active generation; nil means none is protected
}

// New returns a Collector wired to volumes with the given policy.
func New(volumes VolumeManager, policy Policy) *Collector {
	return &Collector{Volumes: volumes, Policy: policy}
}

// Run executes one GC pass: delete every incomplete generation, then
// age/count-prune complete ones, oldest first, stopping as soon as the
// retention floor is satisfied.
func (c *Collector) Run(ctx context.Context) (*Result, error) {
	gens, err := c.Volumes.ListGenerations()
	if err != nil {
		return nil, fmt.Errorf("gc: list generations: %w", err)
	}

	result := &Result{}

	var complete []subvol.Generation
	for _, g := range gens {
		if g.Complete {
			complete = append(complete, g)
			continue
		}
		if c.isProtected(g.Number) {
			continue
		}
		if err := c.Volumes.Delete(ctx, g.Number); err != nil {
			return nil, fmt.Errorf("gc: delete incomplete generation %d: %w", g.Number, err)
		}
		result.IncompleteDeleted = append(result.IncompleteDeleted, g.Number)
	}

	sort.Slice(complete, func(i, j int) bool { return complete[i].Number < complete[j].Number })

	now := time.Now()
	kept := append([]subvol.Generation(nil), complete...)

	for len(kept) > c.Policy.KeepMin {
		oldest := kept[0]
		if c.isProtected(oldest.Number) {
			break
		}

		age := generationAge(oldest, now)
		overCount := len(kept) > c.Policy.KeepMax
		overAge := age > c.Policy.MaxAge

		if !overCount && !overAge {
			break
		}
		if age < c.Policy.MinAge {
			break
		}

		if err := c.Volumes.Delete(ctx, oldest.Number); err != nil {
			return nil, fmt.Errorf("gc: delete generation %d: %w", oldest.Number, err)
		}
		result.AgedOutDeleted = append(result.AgedOutDeleted, oldest.Number)
		kept = kept[1:]
	}

	for _, g := range kept {
		result.Kept = append(result.Kept, g.Number)
	}

	return result, nil
}

func (c *Collector) isProtected(n int) bool {
	return c.Protect != nil && c.Protect(n)
}

func generationAge(g subvol.Generation, now time.Time) time.Duration {
	if g.CreatedAt == nil {
		return 0
	}
	return now.Sub(g.CreatedAt.ModTime())
}
