package seed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-routing/migrations"
	"github.com/garyjia/approval-routing/pkg/database"
)

func TestLoadFile_ApplyStoresEverything(t *testing.T) {
	f, err := LoadFile(filepath.Join("testdata", "routing.yaml"))
	require.NoError(t, err)

	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "seed.db"), MaxOpenConns: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).RunMigrationsFS(migrations.FS))

	ctx := context.Background()
	paths := repository.NewPathRepository(db.DB, logger)
	rules := repository.NewRuleRepository(db.DB, logger)
	identity := repository.NewIdentityRepository(db.DB, logger)
	txns := repository.NewTransactionRepository(db.DB, logger)

	summary, err := Apply(ctx, f, Deps{
		Paths:        paths,
		Rules:        rules,
		Roles:        identity,
		Transactions: txns,
		TxManager:    sqlite.NewDB(db.DB, logger),
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Paths: 2, Rules: 2, Roles: 2, Transactions: 1}, summary)

	stored, err := rules.ListActive(ctx, entity.TxnTypePurchaseOrder)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	dept := stored[0]
	assert.Equal(t, "Dept D mid-range", dept.Name)
	assert.Equal(t, []string{"D"}, dept.Departments)
	require.NotNil(t, dept.MaxAmount)
	assert.Equal(t, 5000.0, *dept.MaxAmount)
	require.NotNil(t, dept.EffectiveFrom)
	assert.Equal(t, "2026-01-01", dept.EffectiveFrom.Format(dateLayout))

	path, err := paths.GetByID(ctx, dept.PathID)
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, 48, path.SLAHours)
	require.Len(t, path.Steps, 2)
	assert.Equal(t, entity.ApproverTypeRole, path.Steps[0].ApproverType)
	assert.Equal(t, entity.ExecutionParallelAny, path.Steps[0].ExecutionMode)
	assert.Equal(t, entity.ApproverTypeIndividual, path.Steps[1].ApproverType)
	assert.Equal(t, entity.ExecutionSerial, path.Steps[1].ExecutionMode)
	assert.True(t, path.Steps[1].CommentRequired)

	managers, err := identity.UsersWithRole(ctx, "dept_manager")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mgr-a", "mgr-b"}, managers)

	txn, err := txns.Load(ctx, entity.TransactionRef{Type: entity.TxnTypePurchaseOrder, ID: "PO-1"})
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, entity.ApprovalStatusDraft, txn.Approval.Status)
	require.NotNil(t, txn.RiskScore)
	assert.Equal(t, 10.0, *txn.RiskScore)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown field",
			doc:  "rules:\n  - name: R\n    departmnts: [D]\n",
			want: "departmnts",
		},
		{
			name: "unknown path",
			doc:  "rules:\n  - name: R\n    transaction_type: invoice\n    path: nowhere\n",
			want: `unknown path "nowhere"`,
		},
		{
			name: "approver and role",
			doc:  "paths:\n  - key: p\n    steps:\n      - sequence: 1\n        approver: a\n        role: r\n",
			want: "exactly one of approver and role",
		},
		{
			name: "duplicate sequence",
			doc:  "paths:\n  - key: p\n    steps:\n      - {sequence: 1, approver: a}\n      - {sequence: 1, approver: b}\n",
			want: "duplicate sequence 1",
		},
		{
			name: "bad mode",
			doc:  "paths:\n  - key: p\n    steps:\n      - {sequence: 1, approver: a, execution_mode: sometimes}\n",
			want: "unknown execution mode",
		},
		{
			name: "bad date",
			doc:  "paths:\n  - key: p\n    steps:\n      - {sequence: 1, approver: a}\nrules:\n  - {name: R, transaction_type: invoice, path: p, effective_to: 31/12/2026}\n",
			want: "invalid date",
		},
		{
			name: "bad transaction type",
			doc:  "transactions:\n  - {type: receipt, id: X, subsidiary: '1', created_by: a}\n",
			want: "type and id are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
