// Package matcher selects the approval path for a transaction from the
// configured decision rules.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Path status values reported in debug traces
const (
	PathUsable        = "usable"
	PathMissing       = "missing"
	PathInactive      = "inactive"
	PathNoActiveSteps = "no_active_steps"
	PathNotEvaluated  = "not_evaluated"
)

// Settings is the matcher's explicit configuration. A zero FallbackPathID
// disables the fallback.
type Settings struct {
	FallbackPathID int64
}

// MatchResult is the selected path and why it was selected
type MatchResult struct {
	Rule        *entity.DecisionRule `json:"rule,omitempty"`
	Path        *entity.ApprovalPath `json:"path"`
	Steps       []entity.PathStep    `json:"steps"`
	Specificity int                  `json:"specificity"`
	Criteria    []CriterionResult    `json:"criteria,omitempty"`
	Explanation string               `json:"explanation"`
	Fallback    bool                 `json:"fallback"`
}

// RuleID returns the matched rule ID, or nil for a fallback result
func (r *MatchResult) RuleID() *int64 {
	if r.Rule == nil {
		return nil
	}
	id := r.Rule.ID
	return &id
}

// RuleTrace is the evaluation of a single rule
type RuleTrace struct {
	RuleID      int64             `json:"rule_id"`
	RuleName    string            `json:"rule_name"`
	Priority    int               `json:"priority"`
	PathID      int64             `json:"path_id"`
	InWindow    bool              `json:"in_window"`
	Matched     bool              `json:"matched"`
	Specificity int               `json:"specificity"`
	Criteria    []CriterionResult `json:"criteria"`
	PathStatus  string            `json:"path_status"`
	Selected    bool              `json:"selected"`
}

// DebugTrace is the full per-rule evaluation of one context
type DebugTrace struct {
	Context     entity.MatchContext `json:"context"`
	EvaluatedOn string              `json:"evaluated_on"`
	Rules       []RuleTrace         `json:"rules"`
	Result      *MatchResult        `json:"result,omitempty"`
}

// Option configures the matcher
type Option func(*Matcher)

// WithClock overrides the source of "today"
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		m.now = now
	}
}

// WithMetrics records match outcomes
func WithMetrics(metrics port.Metrics) Option {
	return func(m *Matcher) {
		m.metrics = metrics
	}
}

// Matcher evaluates decision rules. It never mutates transactions.
type Matcher struct {
	rules   port.RuleRepository
	paths   port.PathRepository
	logger  Logger
	metrics port.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	settings Settings
}

// New creates a Matcher
func New(rules port.RuleRepository, paths port.PathRepository, settings Settings, logger Logger, opts ...Option) *Matcher {
	m := &Matcher{
		rules:    rules,
		paths:    paths,
		logger:   logger,
		now:      time.Now,
		settings: settings,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ApplySettings replaces the matcher settings; used when configuration is reloaded
func (m *Matcher) ApplySettings(s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
}

func (m *Matcher) currentSettings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// FindMatch selects the approval path for mc. A nil result with a nil
// error means nothing matched and no usable fallback is configured.
func (m *Matcher) FindMatch(ctx context.Context, mc entity.MatchContext) (*MatchResult, error) {
	return m.run(ctx, mc, nil)
}

// Debug evaluates every active rule of the context's transaction type and
// reports the outcome of each, plus the result FindMatch would return.
func (m *Matcher) Debug(ctx context.Context, mc entity.MatchContext) (*DebugTrace, error) {
	trace := &DebugTrace{
		Context:     mc,
		EvaluatedOn: entity.DateOnly(m.now()).Format("2006-01-02"),
		Rules:       []RuleTrace{},
	}
	result, err := m.run(ctx, mc, trace)
	if err != nil {
		return nil, err
	}
	trace.Result = result
	return trace, nil
}

type candidate struct {
	rule        *entity.DecisionRule
	specificity int
	criteria    []CriterionResult
	traceIdx    int
}

func (m *Matcher) run(ctx context.Context, mc entity.MatchContext, trace *DebugTrace) (*MatchResult, error) {
	rules, err := m.rules.ListActive(ctx, mc.TransactionType)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	today := m.now()
	candidates := make([]candidate, 0, len(rules))

	for _, rule := range rules {
		inWindow := rule.Active && rule.EffectiveOn(today)
		matched, criteria := evaluate(rule, mc)
		score := specificity(rule)

		idx := -1
		if trace != nil {
			trace.Rules = append(trace.Rules, RuleTrace{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				Priority:    rule.Priority,
				PathID:      rule.PathID,
				InWindow:    inWindow,
				Matched:     inWindow && matched,
				Specificity: score,
				Criteria:    criteria,
				PathStatus:  PathNotEvaluated,
			})
			idx = len(trace.Rules) - 1
		}

		if inWindow && matched {
			candidates = append(candidates, candidate{rule: rule, specificity: score, criteria: criteria, traceIdx: idx})
		}
	}

	// Specificity dominates; priority then ID break ties deterministically
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.specificity != b.specificity {
			return a.specificity > b.specificity
		}
		if a.rule.Priority != b.rule.Priority {
			return a.rule.Priority < b.rule.Priority
		}
		return a.rule.ID < b.rule.ID
	})

	for _, c := range candidates {
		path, status, err := m.loadPath(ctx, c.rule.PathID)
		if err != nil {
			return nil, err
		}
		if trace != nil {
			trace.Rules[c.traceIdx].PathStatus = status
		}
		if status != PathUsable {
			m.logger.Error("Matched rule has unusable path, trying next candidate",
				"rule_id", c.rule.ID,
				"path_id", c.rule.PathID,
				"path_status", status,
			)
			continue
		}

		if trace != nil {
			trace.Rules[c.traceIdx].Selected = true
		}
		m.recordMatch(mc.TransactionType, false)
		return &MatchResult{
			Rule:        c.rule,
			Path:        path,
			Steps:       path.ActiveSteps(),
			Specificity: c.specificity,
			Criteria:    c.criteria,
			Explanation: explain(c.rule, c.criteria),
		}, nil
	}

	return m.fallback(ctx, mc, len(candidates) > 0)
}

func (m *Matcher) fallback(ctx context.Context, mc entity.MatchContext, hadCandidates bool) (*MatchResult, error) {
	settings := m.currentSettings()
	if settings.FallbackPathID == 0 {
		m.recordNoMatch(mc.TransactionType)
		return nil, nil
	}

	path, status, err := m.loadPath(ctx, settings.FallbackPathID)
	if err != nil {
		return nil, err
	}
	if status != PathUsable {
		m.logger.Error("Fallback path is not usable",
			"path_id", settings.FallbackPathID,
			"path_status", status,
		)
		m.recordNoMatch(mc.TransactionType)
		return nil, nil
	}

	reason := "No rule matched"
	if hadCandidates {
		reason = "No matching rule has a usable path"
	}

	m.recordMatch(mc.TransactionType, true)
	return &MatchResult{
		Path:        path,
		Steps:       path.ActiveSteps(),
		Explanation: fmt.Sprintf("%s; routed to fallback path '%s' (ID %d)", reason, path.Name, path.ID),
		Fallback:    true,
	}, nil
}

func (m *Matcher) loadPath(ctx context.Context, pathID int64) (*entity.ApprovalPath, string, error) {
	path, err := m.paths.GetByID(ctx, pathID)
	if err != nil {
		return nil, "", fmt.Errorf("load path %d: %w", pathID, err)
	}
	switch {
	case path.Usable():
		return path, PathUsable, nil
	case path == nil:
		return nil, PathMissing, nil
	case !path.Active:
		return path, PathInactive, nil
	default:
		return path, PathNoActiveSteps, nil
	}
}

func (m *Matcher) recordMatch(txnType string, fallback bool) {
	if m.metrics != nil {
		m.metrics.RuleMatched(txnType, fallback)
	}
}

func (m *Matcher) recordNoMatch(txnType string) {
	if m.metrics != nil {
		m.metrics.RuleNotMatched(txnType)
	}
}

// explain renders the summary line plus one bullet per passing criterion
func explain(rule *entity.DecisionRule, criteria []CriterionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Matched rule '%s' (Priority %d)", rule.Name, rule.Priority)
	for _, c := range criteria {
		if !c.Passed {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: expected %s, got %s", c.Name, c.Expected, c.Actual)
	}
	return b.String()
}
