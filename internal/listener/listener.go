package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"remaininggoods/internal"
	"remaininggoods/internal/metrics"
	"remaininggoods/internal/status"
)

type Fetcher interface {
	Fetch(ctx context.Context, target internal.RemoteTarget) (internal.FetchResult, error)
}

type RecordLoader interface {
	Load(path string) ([]internal.ValidatedRecord, internal.ValidationSummary, error)
}

type Store interface {
	UpsertRecords(ctx context.Context, site string, records []internal.ValidatedRecord) (internal.UpsertSummary, error)
	Close() error
}

// Deps are the collaborators of one Service. OpenStore is called once per
// site so every site owns its connection.
type Deps struct {
	Fetcher   Fetcher
	Loader    RecordLoader
	OpenStore func(ctx context.Context) (Store, error)
	Bootstrap func(ctx context.Context) error
	Status    *status.Tracker
	Metrics   *metrics.Metrics
}

type Options struct {
	Interval          time.Duration
	WorkingHoursStart string
	WorkingHoursEnd   string
	MaxParallelSites  int
	Debug             bool
}

type Service struct {
	targets []internal.RemoteTarget
	deps    Deps
	opts    Options
	hours   window
	log     *slog.Logger
	now     func() time.Time

	schemaMu    sync.Mutex
	schemaReady bool
}

func NewService(targets []internal.RemoteTarget, deps Deps, opts Options, log *slog.Logger) (*Service, error) {
	hours, err := parseWindow(opts.WorkingHoursStart, opts.WorkingHoursEnd)
	if err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Service{targets: targets, deps: deps, opts: opts, hours: hours, log: log, now: time.Now}, nil
}

func (s *Service) Run(ctx context.Context) error {
	s.log.Info("listener started", "sites", len(s.targets), "interval", s.opts.Interval)
	for {
		if s.hours.contains(s.now()) {
			if err := s.RunCycle(ctx); err != nil {
				s.log.Error("cycle failed", "err", err)
			}
		} else {
			s.log.Info("outside working hours, cycle skipped", "start", s.opts.WorkingHoursStart, "end", s.opts.WorkingHoursEnd)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.opts.Interval):
		}
	}
}

// RunCycle processes every site concurrently and flushes the status file once
// all of them are done. Site failures only surface as an error in debug mode.
func (s *Service) RunCycle(ctx context.Context) error {
	start := time.Now()
	log := s.log.With("cycle", uuid.NewString())
	log.Info("cycle started", "sites", len(s.targets))

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	if s.opts.MaxParallelSites > 0 {
		g.SetLimit(s.opts.MaxParallelSites)
	}
	for _, target := range s.targets {
		target := target
		g.Go(func() error {
			if err := s.ProcessSite(ctx, target, log); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var flushErr error
	if s.deps.Status != nil {
		if flushErr = s.deps.Status.Flush(); flushErr != nil {
			log.Error("status file not written", "err", flushErr)
		}
	}

	elapsed := time.Since(start)
	s.deps.Metrics.ObserveCycle(elapsed)
	log.Info("cycle finished", "sites", len(s.targets), "failed", len(errs), "duration", elapsed.Round(time.Millisecond))

	if s.opts.Debug {
		return errors.Join(append(errs, flushErr)...)
	}
	return flushErr
}

// ProcessSite runs fetch, validation and upsert for one site in order. The
// site's status is recorded right after the fetch.
func (s *Service) ProcessSite(ctx context.Context, target internal.RemoteTarget, log *slog.Logger) error {
	log = log.With("site", target.Site, "host", target.Host)

	result, err := s.deps.Fetcher.Fetch(ctx, target)
	fetched := err == nil && result.Found()
	if s.deps.Status != nil {
		s.deps.Status.Set(target.Host, fetched)
	}
	s.deps.Metrics.ObserveFetch(fetched)
	if err != nil {
		return fmt.Errorf("%s: %w", target.Site, err)
	}
	if !fetched {
		return nil
	}

	records, summary, err := s.deps.Loader.Load(result.Path)
	if err != nil {
		log.Error("file not readable", "file", result.Path, "err", err)
		return fmt.Errorf("%s: %w", target.Site, err)
	}
	s.deps.Metrics.AddRecords(metrics.Accepted, summary.Accepted)
	s.deps.Metrics.AddRecords(metrics.Dropped, summary.Dropped)
	if len(records) == 0 {
		log.Warn("no valid records in file", "file", result.Path, "rows", summary.Total)
		return nil
	}

	if err := s.ensureSchema(ctx); err != nil {
		log.Error("schema bootstrap failed", "err", err)
		return fmt.Errorf("%s: schema: %w", target.Site, err)
	}

	store, err := s.deps.OpenStore(ctx)
	if err != nil {
		log.Error("database not available", "err", err)
		return fmt.Errorf("%s: open store: %w", target.Site, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("database close failed", "err", err)
		}
	}()

	stored, err := store.UpsertRecords(ctx, target.Site, records)
	s.deps.Metrics.AddRecords(metrics.Stored, stored.Stored)
	s.deps.Metrics.AddRecords(metrics.Failed, stored.Failed)
	s.deps.Metrics.AddRecords(metrics.Skipped, stored.Skipped)
	if err != nil {
		log.Error("upsert aborted", "err", err)
		return fmt.Errorf("%s: upsert: %w", target.Site, err)
	}
	if stored.Failed > 0 {
		return fmt.Errorf("%s: %d of %d records not stored", target.Site, stored.Failed, len(records))
	}
	return nil
}

// ensureSchema bootstraps tables once per process; concurrent sites wait for
// the first one. A failed attempt is retried by the next caller.
func (s *Service) ensureSchema(ctx context.Context) error {
	if s.deps.Bootstrap == nil {
		return nil
	}
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if err := s.deps.Bootstrap(ctx); err != nil {
		return err
	}
	s.schemaReady = true
	return nil
}

// window is a daily HH:MM range; end before start wraps past midnight.
type window struct {
	set        bool
	start, end int
}

func parseWindow(start, end string) (window, error) {
	if start == "" && end == "" {
		return window{}, nil
	}
	from, err := parseClock(start)
	if err != nil {
		return window{}, fmt.Errorf("WORKING_HOURS_START: %w", err)
	}
	to, err := parseClock(end)
	if err != nil {
		return window{}, fmt.Errorf("WORKING_HOURS_END: %w", err)
	}
	return window{set: from != to, start: from, end: to}, nil
}

func parseClock(value string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("want HH:MM, got %q", value)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", value)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", value)
	}
	return h*60 + m, nil
}

func (w window) contains(t time.Time) bool {
	if !w.set {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if w.start < w.end {
		return minute >= w.start && minute < w.end
	}
	return minute >= w.start || minute < w.end
}
