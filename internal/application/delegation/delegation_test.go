package delegation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
)

type mockDelegationRepo struct {
	items    []*entity.Delegation
	listFunc func(ctx context.Context, approverID string) ([]*entity.Delegation, error)
}

func (m *mockDelegationRepo) Create(ctx context.Context, d *entity.Delegation) error {
	d.ID = int64(len(m.items) + 1)
	m.items = append(m.items, d)
	return nil
}

func (m *mockDelegationRepo) GetByID(ctx context.Context, id int64) (*entity.Delegation, error) {
	for _, d := range m.items {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (m *mockDelegationRepo) ListActiveForApprover(ctx context.Context, approverID string) ([]*entity.Delegation, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, approverID)
	}
	var out []*entity.Delegation
	for _, d := range m.items {
		if d.ApproverID == approverID && d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDelegationRepo) Deactivate(ctx context.Context, id int64) error {
	for _, d := range m.items {
		if d.ID == id {
			d.Active = false
		}
	}
	return nil
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolver_FindActiveDelegation(t *testing.T) {
	repo := &mockDelegationRepo{items: []*entity.Delegation{
		{ID: 1, ApproverID: "boss", DelegateID: "s1-deputy", Subsidiary: "S1", StartDate: day(2026, 5, 1), EndDate: day(2026, 5, 31), Active: true},
		{ID: 2, ApproverID: "boss", DelegateID: "bill-deputy", TransactionType: entity.TxnTypeVendorBill, StartDate: day(2026, 6, 1), EndDate: day(2026, 6, 30), Active: true},
		{ID: 3, ApproverID: "other", DelegateID: "x", StartDate: day(2026, 1, 1), EndDate: day(2026, 12, 31), Active: true},
	}}

	tests := []struct {
		name     string
		today    time.Time
		lookup   Lookup
		expected string
	}{
		{"in scope and window", day(2026, 5, 10), Lookup{ApproverID: "boss", Subsidiary: "S1", TransactionType: entity.TxnTypePurchaseOrder}, "s1-deputy"},
		{"other subsidiary", day(2026, 5, 10), Lookup{ApproverID: "boss", Subsidiary: "S2", TransactionType: entity.TxnTypePurchaseOrder}, ""},
		{"start date inclusive", day(2026, 5, 1), Lookup{ApproverID: "boss", Subsidiary: "S1"}, "s1-deputy"},
		{"end date inclusive late in day", time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC), Lookup{ApproverID: "boss", Subsidiary: "S1"}, "s1-deputy"},
		{"after window", day(2026, 6, 1), Lookup{ApproverID: "boss", Subsidiary: "S1", TransactionType: entity.TxnTypePurchaseOrder}, ""},
		{"unscoped subsidiary is wildcard", day(2026, 6, 15), Lookup{ApproverID: "boss", Subsidiary: "S9", TransactionType: entity.TxnTypeVendorBill}, "bill-deputy"},
		{"type scope excludes", day(2026, 6, 15), Lookup{ApproverID: "boss", Subsidiary: "S9", TransactionType: entity.TxnTypeInvoice}, ""},
		{"no approver", day(2026, 5, 10), Lookup{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(repo, fixedClock(tt.today))
			d, err := r.FindActiveDelegation(context.Background(), tt.lookup)
			require.NoError(t, err)
			if tt.expected == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.expected, d.DelegateID)
		})
	}
}

func TestResolver_SingleHop(t *testing.T) {
	repo := &mockDelegationRepo{items: []*entity.Delegation{
		{ID: 1, ApproverID: "a", DelegateID: "b", StartDate: day(2026, 1, 1), EndDate: day(2026, 1, 31), Active: true},
		{ID: 2, ApproverID: "b", DelegateID: "c", StartDate: day(2026, 1, 1), EndDate: day(2026, 1, 31), Active: true},
	}}
	r := NewResolver(repo, fixedClock(day(2026, 1, 15)))

	d, err := r.FindActiveDelegation(context.Background(), Lookup{ApproverID: "a"})
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "b", d.DelegateID, "delegations are not followed transitively")
}

func TestService_CreateValidation(t *testing.T) {
	boss := port.Actor{ID: "boss"}

	tests := []struct {
		name  string
		d     entity.Delegation
		actor port.Actor
		kind  workflow.Kind
	}{
		{"self delegation", entity.Delegation{ApproverID: "boss", DelegateID: "boss", StartDate: day(2026, 1, 1), EndDate: day(2026, 1, 2)}, boss, workflow.KindValidation},
		{"end before start", entity.Delegation{ApproverID: "boss", DelegateID: "d", StartDate: day(2026, 1, 5), EndDate: day(2026, 1, 2)}, boss, workflow.KindValidation},
		{"too long", entity.Delegation{ApproverID: "boss", DelegateID: "d", StartDate: day(2026, 1, 1), EndDate: day(2026, 2, 15)}, boss, workflow.KindValidation},
		{"overlaps existing", entity.Delegation{ApproverID: "boss", DelegateID: "d", StartDate: day(2026, 3, 5), EndDate: day(2026, 3, 20)}, boss, workflow.KindValidation},
		{"not the approver", entity.Delegation{ApproverID: "boss", DelegateID: "d", StartDate: day(2026, 4, 1), EndDate: day(2026, 4, 2)}, port.Actor{ID: "mallory"}, workflow.KindAuthorization},
		{"bad type", entity.Delegation{ApproverID: "boss", DelegateID: "d", TransactionType: "expense", StartDate: day(2026, 4, 1), EndDate: day(2026, 4, 2)}, boss, workflow.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockDelegationRepo{items: []*entity.Delegation{
				{ID: 1, ApproverID: "boss", DelegateID: "old", StartDate: day(2026, 3, 1), EndDate: day(2026, 3, 10), Active: true},
			}}
			svc := NewService(repo, Settings{MaxDays: 30}, &mockLogger{}, nil)

			d := tt.d
			err := svc.Create(context.Background(), &d, tt.actor)
			require.Error(t, err)
			assert.Equal(t, tt.kind, workflow.KindOf(err))
			assert.Len(t, repo.items, 1)
		})
	}
}

func TestService_CreateAllowsDisjointScopes(t *testing.T) {
	repo := &mockDelegationRepo{items: []*entity.Delegation{
		{ID: 1, ApproverID: "boss", DelegateID: "old", Subsidiary: "S1", StartDate: day(2026, 3, 1), EndDate: day(2026, 3, 10), Active: true},
	}}
	svc := NewService(repo, Settings{MaxDays: 30}, &mockLogger{}, fixedClock(day(2026, 2, 1)))

	d := &entity.Delegation{ApproverID: "boss", DelegateID: "new", Subsidiary: "S2", StartDate: day(2026, 3, 5), EndDate: day(2026, 3, 8)}
	require.NoError(t, svc.Create(context.Background(), d, port.Actor{ID: "boss"}))
	assert.True(t, d.Active)
	assert.Equal(t, "boss", d.CreatedBy)

	// An unscoped delegation overlaps every scope
	wide := &entity.Delegation{ApproverID: "boss", DelegateID: "wide", StartDate: day(2026, 3, 9), EndDate: day(2026, 3, 12)}
	err := svc.Create(context.Background(), wide, port.Actor{ID: "boss"})
	assert.Equal(t, workflow.KindValidation, workflow.KindOf(err))
}

func TestService_Revoke(t *testing.T) {
	repo := &mockDelegationRepo{items: []*entity.Delegation{
		{ID: 1, ApproverID: "boss", DelegateID: "d", CreatedBy: "boss", StartDate: day(2026, 3, 1), EndDate: day(2026, 3, 10), Active: true},
	}}
	svc := NewService(repo, Settings{}, &mockLogger{}, nil)
	ctx := context.Background()

	err := svc.Revoke(ctx, 1, port.Actor{ID: "d"})
	assert.Equal(t, workflow.KindAuthorization, workflow.KindOf(err))

	require.NoError(t, svc.Revoke(ctx, 1, port.Actor{ID: "admin", Privileged: true}))
	assert.False(t, repo.items[0].Active)

	err = svc.Revoke(ctx, 1, port.Actor{ID: "boss"})
	assert.Equal(t, workflow.KindState, workflow.KindOf(err))

	err = svc.Revoke(ctx, 99, port.Actor{ID: "boss"})
	assert.Equal(t, workflow.KindNotFound, workflow.KindOf(err))
}
