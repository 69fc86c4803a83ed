// Package builder drives the two ways a generation comes into being —
// fresh, from a bootstrap, or incremental, as a diff-driven mutation of
// a snapshot — generalizing the teacher's BuildContext/DoBuild/UUID-and-
// BuildRecord lifecycle (build/build.go, build/bootstrap.go) from "bulk-
// build ports in parallel workers" to "build exactly one generation."
// Every build attempt is bracketed by a ledger.Begin/Finish pair exactly
// as bootstrapPkg brackets a port build with SaveRecord/UpdateRecordStatus,
// and every step failure is logged to both the aggregate *log.Logger and
// a per-attempt *log.GenerationLogger before propagating.
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"darch/config"
	"darch/ledger"
	"darch/log"
	"darch/manifest"
	"darch/runner"
	"darch/subvol"
)

// Result reports the outcome of a single Build call.
type Result struct {
	Generation int
	Mode       string // "fresh" | "incremental"
	Skipped    bool   // true when an incremental build found nothing to do
}

// Builder owns everything one generation build needs: tool configuration,
// the aggregate build logger, the build-history ledger, and the two
// seams (VolumeManager, ScopeFactory) that let it run against either a
// real btrfs filesystem or a fake one under test.
type Builder struct {
	Cfg      *config.Config
	Logger   *log.Logger
	Ledger   *ledger.Ledger
	Volumes  VolumeManager
	NewScope ScopeFactory
	Runner   CommandRunner
}

// New returns a Builder wired to the real filesystem: subvol.Manager
// rooted at cfg.ImagesDir(), fsorch.NewScope as the chroot factory, and
// runner.Run for the bootstrap tool's host-side invocation.
func New(cfg *config.Config, logger *log.Logger, ledgerDB *ledger.Ledger) *Builder {
	return &Builder{
		Cfg:      cfg,
		Logger:   logger,
		Ledger:   ledgerDB,
		Volumes:  subvol.NewManager(cfg.ImagesDir()),
		NewScope: defaultScopeFactory,
		Runner:   runner.Run,
	}
}

// Build materializes next as a new generation, choosing fresh or
// incremental mode: incremental unless forceFresh is set or no complete
// predecessor generation exists yet.
func (b *Builder) Build(ctx context.Context, next *manifest.Manifest, forceFresh bool) (*Result, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}

	prev, err := b.Volumes.LatestComplete()
	if err != nil {
		return nil, fmt.Errorf("builder: determine predecessor: %w", err)
	}

	mode := "incremental"
	if forceFresh || prev == nil {
		mode = "fresh"
	}

	if mode == "incremental" {
		skip, err := b.manifestUnchanged(prev.Number, next)
		if err != nil {
			b.Logger.Warn("builder: manifest-hash skip check for generation %d: %v", prev.Number, err)
		} else if skip {
			b.Logger.Skipped(prev.Number, "build")
			return &Result{Generation: prev.Number, Mode: mode, Skipped: true}, nil
		}
	}

	n, err := b.Volumes.NextNumber()
	if err != nil {
		return nil, fmt.Errorf("builder: allocate generation number: %w", err)
	}

	buildID, err := b.Ledger.Begin(n, mode)
	if err != nil {
		return nil, fmt.Errorf("builder: record build start: %w", err)
	}

	genLog, err := log.NewGenerationLogger(b.Cfg.LogsPath, n, buildID)
	if err != nil {
		return nil, fmt.Errorf("builder: open generation log: %w", err)
	}
	defer genLog.Close()

	start := time.Now()

	var result *Result
	if mode == "fresh" {
		result, err = b.buildFresh(ctx, n, next, genLog)
	} else {
		result, err = b.buildIncremental(ctx, n, prev, next, genLog)
	}

	duration := time.Since(start)

	if err != nil {
		step := ""
		var sf *StepFailed
		if errors.As(err, &sf) {
			step = sf.Step
		}
		genLog.WriteFailure(duration, step, err)
		b.Logger.Failed(n, step, err)
		_ = b.Ledger.Finish(buildID, "failed", step)
		return nil, err
	}

	genLog.WriteSuccess(duration)
	b.Logger.Success(n)
	b.Logger.WriteSummary(n, mode, true, duration)
	_ = b.Ledger.Finish(buildID, "success", "")

	if err := b.regenerateManifestHash(n, next); err != nil {
		b.Logger.Warn("builder: failed to record manifest hash for generation %d: %v", n, err)
	}

	return result, nil
}

// manifestUnchanged reports whether next hashes identically to the
// manifest content already recorded for generation prevNumber, letting
// Build skip an incremental pass entirely when there is nothing to do.
// A missing recorded hash (e.g. the ledger predates this generation, or
// was never written) is not an error — it just means the fast path
// doesn't apply, and the normal diff-driven incremental build runs.
func (b *Builder) manifestUnchanged(prevNumber int, next *manifest.Manifest) (bool, error) {
	hash, ok, err := b.Ledger.ManifestHash(prevNumber)
	if err != nil {
		return false, fmt.Errorf("builder: read manifest hash for generation %d: %w", prevNumber, err)
	}
	if !ok {
		return false, nil
	}

	canon := *next
	canon.Canonicalize()
	data, err := json.Marshal(&canon)
	if err != nil {
		return false, fmt.Errorf("builder: marshal manifest for hashing: %w", err)
	}
	return hash == ledger.HashManifestBytes(data), nil
}

func (b *Builder) regenerateManifestHash(generation int, m *manifest.Manifest) error {
	canon := *m
	canon.Canonicalize()
	data, err := json.Marshal(&canon)
	if err != nil {
		return fmt.Errorf("builder: marshal manifest for hashing: %w", err)
	}
	return b.Ledger.StoreManifestHash(generation, ledger.HashManifestBytes(data))
}
