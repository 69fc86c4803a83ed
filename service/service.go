// Package service is the top-level driver of §4.10: it owns the shared
// resources a build needs (logger, ledger, volume manager, builder) and
// sequences lock acquisition, prerequisite checks, garbage collection,
// the build itself, and boot-menu regeneration into the single
// lock-protected operation the CLI calls.
package service

import (
	"fmt"

	"darch/builder"
	"darch/config"
	"darch/ledger"
	"darch/log"
	"darch/subvol"
)

// Service coordinates darch's subsystems for one CLI invocation.
//
// Usage:
//
//	cfg, _ := config.Load("", "default")
//	svc, err := service.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	result, err := svc.Apply(ctx, service.ApplyOptions{Next: manifest})
type Service struct {
	cfg     *config.Config
	logger  *log.Logger
	ledger  *ledger.Ledger
	volumes *subvol.Manager
	builder *builder.Builder
}

// New creates a Service wired to cfg. It opens the log sink and the
// ledger database; the caller must call Close to release both.
func New(cfg *config.Config) (*Service, error) {
	logger, err := log.NewLogger(cfg.LogsPath)
	if err != nil {
		return nil, fmt.Errorf("service: initialize logger: %w", err)
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("service: open ledger: %w", err)
	}

	return &Service{
		cfg:     cfg,
		logger:  logger,
		ledger:  led,
		volumes: subvol.NewManager(cfg.ImagesDir()),
		builder: builder.New(cfg, logger, led),
	}, nil
}

// Close releases the logger and ledger. Both are closed even if the
// ledger fails to close; only the ledger can report an error, since
// Logger.Close returns none.
func (s *Service) Close() error {
	var errs []error
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger close: %w", err))
		}
	}
	if s.logger != nil {
		s.logger.Close()
	}
	if len(errs) > 0 {
		return fmt.Errorf("service: close errors: %v", errs)
	}
	return nil
}

// Config returns the service's configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Logger returns the service's logger.
func (s *Service) Logger() *log.Logger {
	return s.logger
}

// Ledger returns the service's build-history ledger.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// ListGenerations enumerates every generation, used by `darch list`.
func (s *Service) ListGenerations() ([]subvol.Generation, error) {
	return s.volumes.ListGenerations()
}
