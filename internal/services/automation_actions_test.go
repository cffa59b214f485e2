package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActions_Variants(t *testing.T) {
	raw := `[
		{"type": "generate_contract"},
		{"type": "generate_invoice", "params": {"contractId": 7}},
		{"type": "expire_contracts"},
		{"type": "send_email", "params": {"to": ["ops@example.com", "$clientEmail"], "subject": "Signed {{ contractId }}"}},
		{"type": "notify_log"}
	]`
	actions, err := ParseActions(raw)
	require.NoError(t, err)
	require.Len(t, actions, 5)

	assert.Equal(t, GenerateContractAction{}, actions[0])
	assert.Equal(t, GenerateInvoiceAction{ContractID: 7}, actions[1])
	assert.Equal(t, ExpireContractsAction{}, actions[2])
	assert.Equal(t, SendEmailAction{To: []string{"ops@example.com", "$clientEmail"}, Subject: "Signed {{ contractId }}"}, actions[3])
	assert.Equal(t, NotifyLogAction{Message: "automation rule fired"}, actions[4])
}

func TestParseActions_Empty(t *testing.T) {
	actions, err := ParseActions("")
	require.NoError(t, err)
	assert.Empty(t, actions)

	actions, err = ParseActions("[]")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestParseActions_Invalid(t *testing.T) {
	for _, raw := range []string{
		`{"type": "notify_log"}`,
		`[{"type": "delete_everything"}]`,
		`[{"params": {}}]`,
		`[{"type": "send_email"}]`,
		`[{"type": "send_email", "params": {"to": [], "subject": "x"}}]`,
		`[{"type": "generate_invoice", "params": {"contractId": "seven"}}]`,
		`[{"type": "notify_log", "extra": 1}]`,
	} {
		_, err := ParseActions(raw)
		assert.ErrorIs(t, err, ErrInvalidActions, raw)
	}
}
