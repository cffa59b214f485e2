package services

import (
	"context"
	"testing"
	"time"

	"freelancehub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RuleSweepAdvancesNextRun(t *testing.T) {
	st := newTestStack(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	st.scheduler.now = func() time.Time { return now }
	st.automation.now = func() time.Time { return now }

	hourly := createRule(t, st.automation, "hourly", models.TriggerScheduled, `{"intervalMinutes": 60}`, `[{"type": "notify_log"}]`, true)
	daily := createRule(t, st.automation, "daily", models.TriggerScheduled, `{}`, `[{"type": "notify_log"}]`, true)

	report := st.scheduler.Tick(context.Background())
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, report.RulesRun)

	h := reloadRule(t, st, hourly.ID)
	require.NotNil(t, h.NextRun)
	assert.True(t, h.NextRun.Equal(now.Add(time.Hour)), "next run %v", h.NextRun)
	assert.EqualValues(t, 1, h.RunCount)

	d := reloadRule(t, st, daily.ID)
	require.NotNil(t, d.NextRun)
	assert.True(t, d.NextRun.Equal(now.Add(24*time.Hour)))

	logs := logsForRule(t, st, hourly.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, SourceSchedule, logs[0].Source)

	// second tick at the same instant: nothing is due
	report = st.scheduler.Tick(context.Background())
	assert.Zero(t, report.RulesRun)
	assert.EqualValues(t, 1, reloadRule(t, st, hourly.ID).RunCount)
}

func TestScheduler_FailedRuleStillRescheduled(t *testing.T) {
	st := newTestStack(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	st.scheduler.now = func() time.Time { return now }

	rule := createRule(t, st.automation, "broken", models.TriggerScheduled, `{"intervalMinutes": 15}`, `[{"type": "generate_invoice"}]`, true)

	st.scheduler.Tick(context.Background())

	r := reloadRule(t, st, rule.ID)
	assert.EqualValues(t, 1, r.RunCount)
	assert.EqualValues(t, 1, r.ErrorCount)
	require.NotNil(t, r.NextRun)
	assert.True(t, r.NextRun.Equal(now.Add(15*time.Minute)))
	logs := logsForRule(t, st, rule.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusFailed, logs[0].Status)
}

func TestScheduler_CancelledRuleRunIsStillRecorded(t *testing.T) {
	st := newTestStack(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	st.automation.now = func() time.Time { return now }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st.automation.mailer = &cancelOnSendMailer{cancel: cancel}

	rule := createRule(t, st.automation, "digest", models.TriggerScheduled, `{"intervalMinutes": 30}`,
		`[{"type": "send_email", "params": {"to": ["ops@example.com", "finance@example.com"], "subject": "digest"}}]`, true)

	n, err := st.automation.SweepScheduledRules(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Error(t, ctx.Err())

	r := reloadRule(t, st, rule.ID)
	assert.EqualValues(t, 1, r.RunCount)
	assert.EqualValues(t, 1, r.ErrorCount)
	require.NotNil(t, r.NextRun)
	assert.True(t, r.NextRun.Equal(now.Add(30*time.Minute)))

	logs := logsForRule(t, st, rule.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusFailed, logs[0].Status)
	assert.Contains(t, logs[0].Error, "context canceled")
}

func TestScheduler_StopWaitsForRunningTick(t *testing.T) {
	st := newTestStack(t)
	mailer := &slowMailer{entered: make(chan struct{}), delay: 100 * time.Millisecond}
	st.campaigns.mailer = mailer

	past := time.Now().UTC().Add(-time.Minute)
	c := models.EmailCampaign{
		Name:        "in flight",
		Subject:     "hi",
		Content:     "<p>hi</p>",
		Recipients:  []string{"a@example.com"},
		Status:      models.CampaignStatusScheduled,
		ScheduledAt: &past,
	}
	require.NoError(t, st.db.Create(&c).Error)

	require.NoError(t, st.scheduler.Start(context.Background()))
	select {
	case <-mailer.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep never reached the mailer")
	}
	require.NoError(t, st.scheduler.Stop())
	assert.False(t, st.scheduler.Running())

	var stored models.EmailCampaign
	require.NoError(t, st.db.First(&stored, c.ID).Error)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	assert.EqualValues(t, 1, stored.SentCount)
	assert.Zero(t, stored.BounceCount)
}

func TestScheduler_NotDueAndInactiveRulesUntouched(t *testing.T) {
	st := newTestStack(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	st.scheduler.now = func() time.Time { return now }

	inactive := createRule(t, st.automation, "off", models.TriggerScheduled, `{}`, `[{"type": "notify_log"}]`, false)
	future := createRule(t, st.automation, "later", models.TriggerScheduled, `{}`, `[{"type": "notify_log"}]`, true)
	later := now.Add(2 * time.Hour)
	require.NoError(t, st.db.Model(&models.AutomationRule{}).Where("id = ?", future.ID).Update("next_run", later).Error)

	for i := 0; i < 5; i++ {
		st.scheduler.Tick(context.Background())
	}

	for _, id := range []uint{inactive.ID, future.ID} {
		r := reloadRule(t, st, id)
		assert.Zero(t, r.RunCount, "rule %d", id)
		assert.Nil(t, r.LastRun)
		assert.Empty(t, logsForRule(t, st, id))
	}
	assert.True(t, reloadRule(t, st, future.ID).NextRun.Equal(later))
}

func TestScheduler_CronRule(t *testing.T) {
	st := newTestStack(t)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	st.scheduler.now = func() time.Time { return now }

	rule := createRule(t, st.automation, "weekly report", models.TriggerScheduled, `{"cron": "0 9 * * 1"}`, `[{"type": "notify_log"}]`, true)
	st.scheduler.Tick(context.Background())

	r := reloadRule(t, st, rule.ID)
	require.NotNil(t, r.NextRun)
	assert.True(t, r.NextRun.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)))
}

func TestScheduler_TickRunsExpirySweep(t *testing.T) {
	st := newTestStack(t)
	past := time.Now().UTC().Add(-time.Hour)
	c := models.SmartContract{Title: "old", Status: models.ContractStatusPendingReview, ExpiresAt: &past, JobID: 1, FreelancerID: 2}
	require.NoError(t, st.db.Create(&c).Error)

	report := st.scheduler.Tick(context.Background())
	assert.Equal(t, 1, report.ContractsExpired)

	var reloaded models.SmartContract
	require.NoError(t, st.db.First(&reloaded, c.ID).Error)
	assert.Equal(t, models.ContractStatusExpired, reloaded.Status)
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	st := newTestStack(t)
	rule := createRule(t, st.automation, "first tick", models.TriggerScheduled, `{}`, `[{"type": "notify_log"}]`, true)

	require.NoError(t, st.engine.Start(context.Background()))
	require.NoError(t, st.engine.Start(context.Background()))
	assert.True(t, st.scheduler.Running())

	// the job fires immediately on start
	require.Eventually(t, func() bool {
		var r models.AutomationRule
		if err := st.db.First(&r, rule.ID).Error; err != nil {
			return false
		}
		return r.RunCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, st.engine.Stop())
	assert.False(t, st.scheduler.Running())
	require.NoError(t, st.engine.Stop())

	// a duplicate start would have produced a second immediate run
	assert.EqualValues(t, 1, reloadRule(t, st, rule.ID).RunCount)
}
