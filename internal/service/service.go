package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"secuflow/config"
	"secuflow/internal/analyzer"
	"secuflow/internal/explain"
	"secuflow/internal/logger"
	"secuflow/internal/logstore"
	"secuflow/internal/metrics"
	"secuflow/internal/rules"
	"secuflow/internal/templates"
	"secuflow/pkg/models"
)

// ErrInvalidLimit is returned for a window or sample size below one.
var ErrInvalidLimit = errors.New("limit must be at least 1")

// TemplateFinder resolves event templates.
type TemplateFinder interface {
	Find(eventID string) (models.TemplateMatch, error)
}

// Config wires the service dependencies.
type Config struct {
	Store     logstore.Store
	Templates TemplateFinder
	Explainer explain.Explainer
	Matcher   rules.Matcher
	Metrics   *metrics.Metrics
	Window    int
}

// Service runs the triage operations. Every call reloads the log source.
type Service struct {
	store     logstore.Store
	templates TemplateFinder
	explainer explain.Explainer
	matcher   rules.Matcher
	metrics   *metrics.Metrics
	window    int
}

// New creates a service.
func New(cfg Config) *Service {
	if cfg.Window <= 0 {
		cfg.Window = analyzer.DefaultWindow
	}
	if cfg.Explainer == nil {
		cfg.Explainer = explain.NewFallback()
	}
	if cfg.Matcher == nil {
		cfg.Matcher = rules.NoopMatcher{}
	}
	return &Service{
		store:     cfg.Store,
		templates: cfg.Templates,
		explainer: cfg.Explainer,
		matcher:   cfg.Matcher,
		metrics:   cfg.Metrics,
		window:    cfg.Window,
	}
}

// NewFromConfig builds the store, template lookup, explainer and rule matcher from cfg.
func NewFromConfig(cfg *config.Config, fs afero.Fs, m *metrics.Metrics) (*Service, error) {
	c := cfg.SecuFlow

	store, err := logstore.NewFromConfig(c.Logs, fs)
	if err != nil {
		return nil, fmt.Errorf("create log store: %w", err)
	}
	logger.Infof("Log source: %s", store.Describe())

	var opts []explain.Option
	if m != nil {
		opts = append(opts, explain.WithObserver(m.ObserveExplanation))
	}
	explainer := explain.New(c.Explainer, opts...)
	logger.Infof("Explainer: %s", explainer.Name())

	matcher, err := loadMatcher(c.Rules)
	if err != nil {
		store.Close()
		return nil, err
	}

	return New(Config{
		Store:     store,
		Templates: templates.New(fs, c.Templates.Path),
		Explainer: explainer,
		Matcher:   matcher,
		Metrics:   m,
		Window:    c.Analysis.Window,
	}), nil
}

func loadMatcher(cfg config.RulesConfig) (rules.Matcher, error) {
	if !cfg.Enabled {
		return rules.NoopMatcher{}, nil
	}
	if strings.TrimSpace(cfg.Path) == "" {
		logger.Warnf("Rules enabled but rules.path is empty; Sigma matching disabled")
		return rules.NoopMatcher{}, nil
	}

	engine, stats, err := rules.NewSigmaEngine(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load sigma rules from %s: %w", cfg.Path, err)
	}
	logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
		stats.Loaded,
		stats.SkippedComplex,
		stats.SkippedDatasource,
		stats.SkippedInvalid,
		stats.TotalFiles,
	)
	if stats.Loaded == 0 {
		logger.Warnf("No compatible Sigma rules loaded; rule matching is effectively disabled")
	}
	return engine, nil
}

// DefaultWindow returns the configured analysis window.
func (s *Service) DefaultWindow() int {
	return s.window
}

// Analyze summarizes the most recent window records, raises incidents and explains them.
func (s *Service) Analyze(ctx context.Context, window int) (models.Report, error) {
	if window < 1 {
		return models.Report{}, fmt.Errorf("%w: got %d", ErrInvalidLimit, window)
	}

	records, err := s.store.Load(ctx)
	if err != nil {
		s.metrics.ObserveAnalysis(models.Report{}, err)
		return models.Report{}, err
	}

	summary := analyzer.Summarize(records, window)
	incidents := analyzer.Detect(summary)
	report := models.Report{
		Summary:       summary,
		Incidents:     incidents,
		AIExplanation: s.explainer.Explain(ctx, summary),
		RuleMatches:   s.matcher.Match(analyzer.Window(records, window)),
	}

	s.metrics.ObserveAnalysis(report, nil)
	logger.Infof("Analysis completed: window=%d analyzed=%d incidents=%d rule_matches=%d explainer=%s",
		window,
		summary.TotalEventsAnalyzed,
		len(incidents),
		len(report.RuleMatches),
		s.explainer.Name(),
	)
	return report, nil
}

// Template looks up the templates known for eventID.
func (s *Service) Template(eventID string) (models.TemplateMatch, error) {
	match, err := s.templates.Find(eventID)
	s.metrics.ObserveTemplateLookup(err)
	if err != nil {
		return models.TemplateMatch{}, err
	}
	logger.Debugf("Template lookup: event_id=%s found=%d", eventID, match.TemplatesFound)
	return match, nil
}

// Sample returns the first limit records of the log source.
func (s *Service) Sample(ctx context.Context, limit int) ([]models.LogRecord, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}

	records, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []models.LogRecord{}
	}
	return records, nil
}

// Close releases the log store.
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
