// Package feed turns configured HTTP-JSON sources into schedule tasks.
//
// A source is fetched with one GET, its rows are picked out with gjson
// paths and handed to the component its kind names: the reconciliation
// engine for counters and per-event feeds, the hierarchy syncer for
// master data.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/roach88/adingest/internal/config"
	"github.com/roach88/adingest/internal/domain"
	"github.com/roach88/adingest/internal/hierarchy"
	"github.com/roach88/adingest/internal/reconcile"
	"github.com/roach88/adingest/internal/schedule"
)

// maxBody caps how much of a response is read.
const maxBody = 32 << 20

// Reconciler is the part of the reconciliation engine feeds drive.
type Reconciler interface {
	Reconcile(ctx context.Context, source string, observations []reconcile.Observation) (reconcile.Report, error)
	IngestEvents(ctx context.Context, source string, kind domain.EventKind, events []domain.Event, refresh bool) (reconcile.Report, error)
}

// Syncer is the part of the hierarchy syncer feeds drive.
type Syncer interface {
	Sync(ctx context.Context, records []domain.HierarchyRecord) (hierarchy.Result, error)
}

// Deps are the components sources deliver rows to.
type Deps struct {
	Reconciler Reconciler
	Syncer     Syncer
	Client     *http.Client
	Logger     *slog.Logger
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// IsRetryable reports whether err is worth another attempt. Client errors
// other than 408 and 429 are final; everything else is retried.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout {
			return true
		}
		return se.Code < 400 || se.Code >= 500
	}
	var pe *ParseError
	return !errors.As(err, &pe)
}

// ParseError reports a body that does not match the configured paths.
type ParseError struct {
	Source string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("feed %s: %s", e.Source, e.Reason)
}

// Source is one configured feed. It implements schedule.Task.
type Source struct {
	cfg     config.SourceConfig
	deps    Deps
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ schedule.Task = (*Source)(nil)

// New validates cfg against deps and builds the source.
func New(cfg config.SourceConfig, deps Deps) (*Source, error) {
	switch cfg.Kind {
	case config.KindCounters, config.KindClicks, config.KindActions:
		if deps.Reconciler == nil {
			return nil, fmt.Errorf("source %s: kind %s needs a reconciler", cfg.Name, cfg.Kind)
		}
	case config.KindHierarchy:
		if deps.Syncer == nil {
			return nil, fmt.Errorf("source %s: kind %s needs a hierarchy syncer", cfg.Name, cfg.Kind)
		}
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q", cfg.Name, cfg.Kind)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("source %s: url is required", cfg.Name)
	}
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Source{
		cfg:     cfg,
		deps:    deps,
		limiter: rate.NewLimiter(limit, burst),
		logger: logger.With(
			slog.String("source", "feed"),
			slog.String("feed", cfg.Name),
			slog.String("kind", cfg.Kind),
		),
	}, nil
}

// Name implements schedule.Task.
func (s *Source) Name() string { return s.cfg.Name }

// Run fetches the feed once and delivers its rows. The count is events
// stored for counters and event feeds, rows written for hierarchy feeds.
func (s *Source) Run(ctx context.Context) (domain.Outcome, error) {
	items, err := s.fetch(ctx)
	if err != nil {
		return domain.Outcome{}, err
	}

	switch s.cfg.Kind {
	case config.KindCounters:
		obs := s.observations(items)
		report, err := s.deps.Reconciler.Reconcile(ctx, s.cfg.Source, obs)
		if err != nil {
			return domain.Outcome{}, err
		}
		s.logReport(report)
		return domain.Outcome{Count: report.Events}, nil

	case config.KindClicks, config.KindActions:
		kind := domain.KindClick
		if s.cfg.Kind == config.KindActions {
			kind = domain.KindAction
		}
		events, skipped := s.events(items)
		report, err := s.deps.Reconciler.IngestEvents(ctx, s.cfg.Source, kind, events, s.cfg.RefreshSnapshots)
		if err != nil {
			return domain.Outcome{}, err
		}
		report.Failed += skipped
		s.logReport(report)
		return domain.Outcome{Count: report.Events}, nil

	case config.KindHierarchy:
		result, err := s.deps.Syncer.Sync(ctx, s.records(items))
		if err != nil {
			return domain.Outcome{}, err
		}
		return domain.Outcome{Count: result.Written()}, nil
	}
	return domain.Outcome{}, fmt.Errorf("source %s: unknown kind %q", s.cfg.Name, s.cfg.Kind)
}

func (s *Source) logReport(r reconcile.Report) {
	level := slog.LevelInfo
	if r.Failed > 0 {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "feed delivered",
		slog.Int("entities", r.Entities),
		slog.Int("events", r.Events),
		slog.Int("bootstrapped", r.Bootstrapped),
		slog.Int("unchanged", r.Unchanged),
		slog.Int("failed", r.Failed),
	)
}

// fetch performs the GET and returns the rows under the items path.
func (s *Source) fetch(ctx context.Context) ([]gjson.Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.deps.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", s.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: s.cfg.URL, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	s.logger.Debug("feed fetched",
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if !gjson.ValidBytes(body) {
		return nil, &ParseError{Source: s.cfg.Name, Reason: "response is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	if s.cfg.Items != "" {
		root = gjson.GetBytes(body, s.cfg.Items)
	}
	if !root.IsArray() {
		return nil, &ParseError{Source: s.cfg.Name, Reason: fmt.Sprintf("items path %q is not an array", s.cfg.Items)}
	}
	return root.Array(), nil
}

func (s *Source) field(item gjson.Result, name string) gjson.Result {
	return item.Get(s.cfg.FieldPath(name))
}

func (s *Source) observations(items []gjson.Result) []reconcile.Observation {
	out := make([]reconcile.Observation, 0, len(items))
	for _, it := range items {
		id := s.field(it, "entity_id").String()
		total := s.field(it, "total")
		if id == "" || !total.Exists() {
			s.logger.Warn("skipping counter row without entity or total", slog.String("entity", id))
			continue
		}
		out = append(out, reconcile.Observation{
			EntityID:    id,
			Total:       total.Int(),
			ReferrerURL: s.field(it, "referrer_url").String(),
		})
	}
	return out
}

// events converts rows, returning how many were rejected for a missing
// or unparseable timestamp.
func (s *Source) events(items []gjson.Result) ([]domain.Event, int) {
	out := make([]domain.Event, 0, len(items))
	skipped := 0
	for _, it := range items {
		at, ok := parseTime(s.field(it, "occurred_at"))
		if !ok {
			skipped++
			s.logger.Warn("skipping event with bad timestamp",
				slog.String("entity", s.field(it, "entity_id").String()),
				slog.String("occurred_at", s.field(it, "occurred_at").Raw),
			)
			continue
		}
		e := domain.Event{
			EntityID:    s.field(it, "entity_id").String(),
			OccurredAt:  at,
			ReferrerURL: s.field(it, "referrer_url").String(),
		}
		if s.cfg.Kind == config.KindActions {
			if r := s.field(it, "reward"); r.Exists() && r.Type != gjson.Null {
				v := r.Int()
				e.Reward = &v
			}
		}
		out = append(out, e)
	}
	return out, skipped
}

func (s *Source) records(items []gjson.Result) []domain.HierarchyRecord {
	out := make([]domain.HierarchyRecord, 0, len(items))
	for _, it := range items {
		out = append(out, domain.HierarchyRecord{
			AccountID:    s.field(it, "account_id").String(),
			CampaignID:   s.field(it, "campaign_id").String(),
			CampaignName: s.field(it, "campaign_name").String(),
			AdgroupID:    s.field(it, "adgroup_id").String(),
			AdgroupName:  s.field(it, "adgroup_name").String(),
			AdID:         s.field(it, "ad_id").String(),
			AdName:       s.field(it, "ad_name").String(),
		})
	}
	return out
}

// parseTime accepts unix seconds or an RFC 3339 string.
func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		sec := v.Int()
		if sec <= 0 {
			return time.Time{}, false
		}
		return time.Unix(sec, 0).UTC(), true
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, v.Str)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	default:
		return time.Time{}, false
	}
}

// BuildTasks builds every source and groups the tasks by family. All
// configuration errors are reported together.
func BuildTasks(sources []config.SourceConfig, deps Deps) (map[string][]schedule.Task, error) {
	out := make(map[string][]schedule.Task)
	var errs []error
	for _, sc := range sources {
		src, err := New(sc, deps)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[sc.Family] = append(out[sc.Family], src)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
