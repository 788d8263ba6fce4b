package lark

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/domain/entity"
)

type sentMessage struct {
	to   string
	text string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, receiverID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{to: receiverID, text: text})
	return nil
}

func sampleTxn() *entity.Transaction {
	return &entity.Transaction{
		Type:        entity.TxnTypePurchaseOrder,
		ID:          "PO-42",
		Amount:      1200,
		Currency:    "USD",
		CreatedBy:   "alice",
		RequestedBy: "bob",
	}
}

func TestNotifier_ApprovalRequestGoesToActingApprover(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{ApprovalLinkBaseURL: "https://approvals.example.com/"}, zap.NewNop())

	task := &entity.ApprovalTask{Sequence: 2, ApproverID: "manager", ActingApproverID: "deputy", Token: "tok-1"}
	require.NoError(t, n.SendApprovalRequest(context.Background(), task, sampleTxn()))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "deputy", msg.to)
	assert.Contains(t, msg.text, "purchase order PO-42 (1200.00 USD)")
	assert.Contains(t, msg.text, "step 2")
	assert.Contains(t, msg.text, "on behalf of manager")
	assert.Contains(t, msg.text, "https://approvals.example.com/api/v1/tokens/tok-1/approve")
}

func TestNotifier_LinksOmittedWithoutBaseURL(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{}, zap.NewNop())

	task := &entity.ApprovalTask{Sequence: 1, ApproverID: "manager", Token: "tok-1", ReminderCount: 2}
	require.NoError(t, n.SendReminder(context.Background(), task, sampleTxn()))

	assert.Equal(t, "manager", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].text, "Reminder 2")
	assert.NotContains(t, sender.sent[0].text, "tokens/")
}

func TestNotifier_EscalationCopiesReceiver(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{EscalationReceiver: "ops-lead"}, zap.NewNop())

	task := &entity.ApprovalTask{Sequence: 1, ApproverID: "manager"}
	require.NoError(t, n.SendEscalation(context.Background(), task, sampleTxn()))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "manager", sender.sent[0].to)
	assert.Equal(t, "ops-lead", sender.sent[1].to)
}

func TestNotifier_OutcomesGoToRequester(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NotifierConfig{}, zap.NewNop())
	txn := sampleTxn()

	require.NoError(t, n.SendApprovedNotification(context.Background(), txn))
	require.NoError(t, n.SendRejectedNotification(context.Background(), txn, "controller", "missing quote"))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "bob", sender.sent[0].to)
	assert.Equal(t, "bob", sender.sent[1].to)
	assert.Contains(t, sender.sent[1].text, "rejected by controller")
	assert.Contains(t, sender.sent[1].text, "Comment: missing quote")
}

func TestNotifier_PropagatesSenderErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("rate limited")}
	n := NewNotifier(sender, NotifierConfig{}, zap.NewNop())

	err := n.SendApprovedNotification(context.Background(), sampleTxn())
	assert.ErrorIs(t, err, sender.err)
}
