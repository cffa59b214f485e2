package services

import (
	"context"
	"testing"

	"freelancehub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposalService_AcceptGeneratesContract(t *testing.T) {
	st := newTestStack(t)
	emitter := &recordingEmitter{}
	st.proposals.events = emitter
	seed := seedProposal(t, st.db, "Web Development", floatPtr(4000), nil)

	res, err := st.proposals.AcceptProposal(context.Background(), seed.Proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusAccepted, res.Proposal.Status)
	require.NotNil(t, res.Contract)
	assert.Contains(t, res.Contract.Content, "$4000")

	var job models.Job
	require.NoError(t, st.db.First(&job, seed.Job.ID).Error)
	assert.Equal(t, models.JobStatusInProgress, job.Status)

	events := emitter.ofType(EventProposalAccepted)
	require.Len(t, events, 1)
	assert.Equal(t, seed.Proposal.ID, events[0].Payload["proposalId"])
	assert.Equal(t, seed.Client.ID, events[0].Payload["clientId"])

	// accepting again reuses the open contract
	again, err := st.proposals.AcceptProposal(context.Background(), seed.Proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Contract.ID, again.Contract.ID)
}

func TestProposalService_ContractFailureDoesNotBlockAcceptance(t *testing.T) {
	st := newTestStack(t)
	emitter := &recordingEmitter{}
	st.proposals.events = emitter
	seed := seedProposal(t, st.db, "design", floatPtr(900), nil)
	require.NoError(t, st.db.Migrator().DropTable(&models.SmartContract{}))

	res, err := st.proposals.AcceptProposal(context.Background(), seed.Proposal.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Contract)

	var proposal models.Proposal
	require.NoError(t, st.db.First(&proposal, seed.Proposal.ID).Error)
	assert.Equal(t, models.ProposalStatusAccepted, proposal.Status)
	assert.Len(t, emitter.ofType(EventProposalAccepted), 1)
}

func TestProposalService_Errors(t *testing.T) {
	st := newTestStack(t)
	_, err := st.proposals.AcceptProposal(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrProposalNotFound)

	seed := seedProposal(t, st.db, "design", nil, nil)
	require.NoError(t, st.db.Model(&models.Proposal{}).Where("id = ?", seed.Proposal.ID).Update("status", models.ProposalStatusRejected).Error)
	_, err = st.proposals.AcceptProposal(context.Background(), seed.Proposal.ID)
	assert.Error(t, err)
}

func TestAcceptProposal_TriggersRuleThroughBus(t *testing.T) {
	st := newTestStack(t)
	rule := createRule(t, st.automation, "notify on accept", models.TriggerEventBased,
		`{"eventType":"PROPOSAL_ACCEPTED"}`, `[{"type":"notify_log","params":{"message":"proposal accepted"}}]`, true)
	seed := seedProposal(t, st.db, "design", floatPtr(500), nil)

	_, err := st.proposals.AcceptProposal(context.Background(), seed.Proposal.ID)
	require.NoError(t, err)

	stored := reloadRule(t, st, rule.ID)
	assert.EqualValues(t, 1, stored.RunCount)
	assert.EqualValues(t, 1, stored.SuccessCount)
	logs := logsForRule(t, st, rule.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, string(EventProposalAccepted), logs[0].EventType)
}
