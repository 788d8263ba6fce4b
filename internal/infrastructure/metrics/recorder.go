// Package metrics exposes workflow outcomes to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/garyjia/approval-routing/internal/application/port"
)

// Config holds configuration for metrics recording
type Config struct {
	Namespace string
	Registry  prometheus.Registerer
}

// Recorder implements port.Metrics with Prometheus collectors
type Recorder struct {
	ruleMatches      *prometheus.CounterVec
	ruleMisses       *prometheus.CounterVec
	stepStalls       *prometheus.CounterVec
	tasksCreated     *prometheus.CounterVec
	actions          *prometheus.CounterVec
	maintenanceItems *prometheus.CounterVec
	budgetExhausted  prometheus.Counter
}

// NewRecorder registers the workflow collectors on cfg.Registry
// (the default registerer when nil)
func NewRecorder(cfg Config) *Recorder {
	if cfg.Namespace == "" {
		cfg.Namespace = "approval_routing"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Recorder{
		ruleMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "rule_matches_total",
			Help:      "Successful path selections by transaction type and whether the fallback path was used",
		}, []string{"transaction_type", "fallback"}),
		ruleMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "rule_misses_total",
			Help:      "Submissions blocked because no rule or fallback path applied",
		}, []string{"transaction_type"}),
		stepStalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "step_stalls_total",
			Help:      "Steps activated with no resolvable approvers",
		}, []string{"transaction_type", "path_id", "sequence"}),
		tasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "tasks_created_total",
			Help:      "Approval tasks created by execution mode",
		}, []string{"execution_mode"}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "actions_total",
			Help:      "Workflow actions by name and outcome",
		}, []string{"action", "success"}),
		maintenanceItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "maintenance_items_total",
			Help:      "Tasks processed by scheduled maintenance",
		}, []string{"kind"}),
		budgetExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "maintenance_budget_exhausted_total",
			Help:      "Maintenance runs that stopped early on their time budget",
		}),
	}
}

// RuleMatched implements port.Metrics
func (r *Recorder) RuleMatched(txnType string, fallback bool) {
	r.ruleMatches.WithLabelValues(txnType, strconv.FormatBool(fallback)).Inc()
}

// RuleNotMatched implements port.Metrics
func (r *Recorder) RuleNotMatched(txnType string) {
	r.ruleMisses.WithLabelValues(txnType).Inc()
}

// StepStalled implements port.Metrics
func (r *Recorder) StepStalled(txnType string, pathID int64, sequence int) {
	r.stepStalls.WithLabelValues(txnType, strconv.FormatInt(pathID, 10), strconv.Itoa(sequence)).Inc()
}

// TasksCreated implements port.Metrics
func (r *Recorder) TasksCreated(mode string, count int) {
	r.tasksCreated.WithLabelValues(mode).Add(float64(count))
}

// ActionCompleted implements port.Metrics
func (r *Recorder) ActionCompleted(action string, success bool) {
	r.actions.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

// MaintenanceProcessed counts reminder, escalation and token refresh items
func (r *Recorder) MaintenanceProcessed(kind string, count int) {
	r.maintenanceItems.WithLabelValues(kind).Add(float64(count))
}

// BudgetExhausted counts maintenance runs cut short by their budget
func (r *Recorder) BudgetExhausted() {
	r.budgetExhausted.Inc()
}

// Verify interface compliance
var _ port.Metrics = (*Recorder)(nil)
