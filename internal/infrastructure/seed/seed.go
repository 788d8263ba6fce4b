// Package seed loads approval paths, decision rules, role assignments and
// sample transactions from a YAML file.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
)

const dateLayout = "2006-01-02"

// File is the seed document
type File struct {
	Paths        []PathSpec          `yaml:"paths"`
	Rules        []RuleSpec          `yaml:"rules"`
	Roles        map[string][]string `yaml:"roles"`
	Transactions []TransactionSpec   `yaml:"transactions"`
}

// PathSpec declares a path. Rules refer to it by Key.
type PathSpec struct {
	Key      string     `yaml:"key"`
	Name     string     `yaml:"name"`
	SLAHours int        `yaml:"sla_hours"`
	Inactive bool       `yaml:"inactive"`
	Steps    []StepSpec `yaml:"steps"`
}

// StepSpec declares one path step
type StepSpec struct {
	Sequence        int    `yaml:"sequence"`
	Name            string `yaml:"name"`
	Approver        string `yaml:"approver"`
	Role            string `yaml:"role"`
	ExecutionMode   string `yaml:"execution_mode"`
	CommentRequired bool   `yaml:"comment_required"`
	SLAHours        int    `yaml:"sla_hours"`
	Inactive        bool   `yaml:"inactive"`
}

// RuleSpec declares a decision rule
type RuleSpec struct {
	Name            string   `yaml:"name"`
	TransactionType string   `yaml:"transaction_type"`
	Path            string   `yaml:"path"`
	Priority        int      `yaml:"priority"`
	Subsidiaries    []string `yaml:"subsidiaries"`
	Departments     []string `yaml:"departments"`
	Locations       []string `yaml:"locations"`
	MinAmount       *float64 `yaml:"min_amount"`
	MaxAmount       *float64 `yaml:"max_amount"`
	Currency        string   `yaml:"currency"`
	RiskMin         *float64 `yaml:"risk_min"`
	RiskMax         *float64 `yaml:"risk_max"`
	ExceptionTypes  []string `yaml:"exception_types"`
	Customers       []string `yaml:"customers"`
	SalesReps       []string `yaml:"sales_reps"`
	Projects        []string `yaml:"projects"`
	Classes         []string `yaml:"classes"`
	CustomSegments  []string `yaml:"custom_segments"`
	EffectiveFrom   string   `yaml:"effective_from"`
	EffectiveTo     string   `yaml:"effective_to"`
	Inactive        bool     `yaml:"inactive"`
}

// TransactionSpec declares a draft document
type TransactionSpec struct {
	Type          string   `yaml:"type"`
	ID            string   `yaml:"id"`
	Subsidiary    string   `yaml:"subsidiary"`
	Department    string   `yaml:"department"`
	Location      string   `yaml:"location"`
	Currency      string   `yaml:"currency"`
	Amount        float64  `yaml:"amount"`
	RiskScore     *float64 `yaml:"risk_score"`
	ExceptionType string   `yaml:"exception_type"`
	Customer      string   `yaml:"customer"`
	SalesRep      string   `yaml:"sales_rep"`
	Project       string   `yaml:"project"`
	Class         string   `yaml:"class"`
	CustomSegment string   `yaml:"custom_segment"`
	CreatedBy     string   `yaml:"created_by"`
	RequestedBy   string   `yaml:"requested_by"`
}

// Summary counts what Apply stored
type Summary struct {
	Paths        int
	Rules        int
	Roles        int
	Transactions int
}

// RoleAssigner grants a role to a user
type RoleAssigner interface {
	AssignRole(ctx context.Context, userID, role string) error
}

// TransactionCreator stores a new document
type TransactionCreator interface {
	Create(ctx context.Context, txn *entity.Transaction) error
}

// Deps are the stores Apply writes to
type Deps struct {
	Paths        port.PathRepository
	Rules        port.RuleRepository
	Roles        RoleAssigner
	Transactions TransactionCreator
	TxManager    port.TransactionManager
}

// LoadFile reads and validates a seed file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document. Unknown keys are rejected so typos in
// criteria names do not silently widen a rule.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks references and enumerations before anything is written
func (f *File) Validate() error {
	keys := make(map[string]bool, len(f.Paths))
	for i, p := range f.Paths {
		if p.Key == "" {
			return fmt.Errorf("paths[%d]: key is required", i)
		}
		if keys[p.Key] {
			return fmt.Errorf("paths[%d]: duplicate key %q", i, p.Key)
		}
		keys[p.Key] = true

		seqs := make(map[int]bool, len(p.Steps))
		for j, s := range p.Steps {
			if s.Sequence <= 0 {
				return fmt.Errorf("path %q step %d: sequence must be positive", p.Key, j)
			}
			if seqs[s.Sequence] {
				return fmt.Errorf("path %q: duplicate sequence %d", p.Key, s.Sequence)
			}
			seqs[s.Sequence] = true
			if (s.Approver == "") == (s.Role == "") {
				return fmt.Errorf("path %q step %d: exactly one of approver and role is required", p.Key, s.Sequence)
			}
			if s.ExecutionMode != "" && !entity.IsValidExecutionMode(s.ExecutionMode) {
				return fmt.Errorf("path %q step %d: unknown execution mode %q", p.Key, s.Sequence, s.ExecutionMode)
			}
		}
	}

	for i, r := range f.Rules {
		if r.Name == "" {
			return fmt.Errorf("rules[%d]: name is required", i)
		}
		if !entity.IsValidTransactionType(r.TransactionType) {
			return fmt.Errorf("rule %q: unknown transaction type %q", r.Name, r.TransactionType)
		}
		if !keys[r.Path] {
			return fmt.Errorf("rule %q: unknown path %q", r.Name, r.Path)
		}
		if _, _, err := r.window(); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}

	for i, t := range f.Transactions {
		if !entity.IsValidTransactionType(t.Type) || t.ID == "" {
			return fmt.Errorf("transactions[%d]: type and id are required", i)
		}
		if t.Subsidiary == "" || t.CreatedBy == "" {
			return fmt.Errorf("transaction %s: subsidiary and created_by are required", t.ID)
		}
	}
	return nil
}

// Apply stores the whole file in one transaction
func Apply(ctx context.Context, f *File, deps Deps) (Summary, error) {
	var summary Summary
	err := deps.TxManager.WithTransaction(ctx, func(ctx context.Context) error {
		pathIDs := make(map[string]int64, len(f.Paths))
		for _, spec := range f.Paths {
			path := spec.toEntity()
			if err := deps.Paths.Create(ctx, path); err != nil {
				return fmt.Errorf("create path %q: %w", spec.Key, err)
			}
			pathIDs[spec.Key] = path.ID
			summary.Paths++
		}

		for _, spec := range f.Rules {
			rule, err := spec.toEntity(pathIDs[spec.Path])
			if err != nil {
				return fmt.Errorf("rule %q: %w", spec.Name, err)
			}
			if err := deps.Rules.Create(ctx, rule); err != nil {
				return fmt.Errorf("create rule %q: %w", spec.Name, err)
			}
			summary.Rules++
		}

		for role, users := range f.Roles {
			for _, user := range users {
				if err := deps.Roles.AssignRole(ctx, user, role); err != nil {
					return fmt.Errorf("assign role %q to %s: %w", role, user, err)
				}
				summary.Roles++
			}
		}

		for _, spec := range f.Transactions {
			txn := spec.toEntity()
			if err := deps.Transactions.Create(ctx, txn); err != nil {
				return fmt.Errorf("create transaction %s: %w", spec.ID, err)
			}
			summary.Transactions++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func (p PathSpec) toEntity() *entity.ApprovalPath {
	path := &entity.ApprovalPath{
		Name:     p.Name,
		SLAHours: p.SLAHours,
		Active:   !p.Inactive,
	}
	if path.Name == "" {
		path.Name = p.Key
	}
	for _, s := range p.Steps {
		step := entity.PathStep{
			Sequence:        s.Sequence,
			Name:            s.Name,
			ApproverType:    entity.ApproverTypeIndividual,
			ApproverID:      s.Approver,
			Role:            s.Role,
			ExecutionMode:   s.ExecutionMode,
			CommentRequired: s.CommentRequired,
			SLAHours:        s.SLAHours,
			Active:          !s.Inactive,
		}
		if s.Role != "" {
			step.ApproverType = entity.ApproverTypeRole
		}
		if step.ExecutionMode == "" {
			step.ExecutionMode = entity.ExecutionSerial
		}
		path.Steps = append(path.Steps, step)
	}
	return path
}

func (r RuleSpec) window() (*time.Time, *time.Time, error) {
	from, err := optionalDate(r.EffectiveFrom)
	if err != nil {
		return nil, nil, err
	}
	to, err := optionalDate(r.EffectiveTo)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (r RuleSpec) toEntity(pathID int64) (*entity.DecisionRule, error) {
	from, to, err := r.window()
	if err != nil {
		return nil, err
	}
	return &entity.DecisionRule{
		Name:            r.Name,
		TransactionType: r.TransactionType,
		Subsidiaries:    r.Subsidiaries,
		Departments:     r.Departments,
		Locations:       r.Locations,
		MinAmount:       r.MinAmount,
		MaxAmount:       r.MaxAmount,
		Currency:        r.Currency,
		RiskMin:         r.RiskMin,
		RiskMax:         r.RiskMax,
		ExceptionTypes:  r.ExceptionTypes,
		Customers:       r.Customers,
		SalesReps:       r.SalesReps,
		Projects:        r.Projects,
		Classes:         r.Classes,
		CustomSegments:  r.CustomSegments,
		Priority:        r.Priority,
		EffectiveFrom:   from,
		EffectiveTo:     to,
		Active:          !r.Inactive,
		PathID:          pathID,
	}, nil
}

func (t TransactionSpec) toEntity() *entity.Transaction {
	return &entity.Transaction{
		Type:          t.Type,
		ID:            t.ID,
		Subsidiary:    t.Subsidiary,
		Department:    t.Department,
		Location:      t.Location,
		Currency:      t.Currency,
		Amount:        t.Amount,
		RiskScore:     t.RiskScore,
		ExceptionType: t.ExceptionType,
		Customer:      t.Customer,
		SalesRep:      t.SalesRep,
		Project:       t.Project,
		Class:         t.Class,
		CustomSegment: t.CustomSegment,
		CreatedBy:     t.CreatedBy,
		RequestedBy:   t.RequestedBy,
		Approval:      entity.ApprovalState{Status: entity.ApprovalStatusDraft},
	}
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return &t, nil
}
