package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-delvita/scheduler-v4/internal/config"
	"github.com/max-delvita/scheduler-v4/internal/engine"
	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/metrics"
	"github.com/max-delvita/scheduler-v4/internal/nudge"
	"github.com/max-delvita/scheduler-v4/internal/repository/memory"
	"github.com/max-delvita/scheduler-v4/internal/workflow"
)

var testMetrics = metrics.NewMetrics()

type noopSender struct{}

func (noopSender) SendThreaded(_ context.Context, _ mail.SendRequest) (string, error) {
	return "out-1", nil
}

type noopEngine struct{}

func (noopEngine) ClassifyIntent(_ context.Context, _ []engine.HistoryMessage, _ engine.HistoryMessage, _ engine.SessionContext) (engine.Classification, error) {
	return engine.Classification{Intent: engine.IntentSimpleReply}, nil
}

func (noopEngine) DecideAction(_ context.Context, _ []engine.HistoryMessage, _ engine.HistoryMessage, _ engine.SessionContext, _ engine.Intent) (engine.Decision, error) {
	return engine.Decision{NextStep: engine.StepNoAction}, nil
}

type fakeSource struct {
	payloads []mail.InboundPayload
	fetches  int
	closed   bool
}

func (f *fakeSource) FetchNew(_ context.Context) ([]mail.InboundPayload, error) {
	f.fetches++
	out := f.payloads
	f.payloads = nil
	return out, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func newTestScheduler(source InboundSource) (*Scheduler, *memory.Repository) {
	repo := memory.New()
	sender := noopSender{}
	wf := workflow.New(repo, sender, noopEngine{}, testMetrics, nil, "amy@scheduler.example.com")
	sweeper := nudge.NewSweeper(repo, sender, config.NudgeConfig{
		FirstReminder:  24 * time.Hour,
		SecondReminder: 48 * time.Hour,
		Escalation:     72 * time.Hour,
	}, testMetrics, nil)
	return NewScheduler(&config.SchedulerConfig{IntervalMinutes: 30}, sweeper, wf, source), repo
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(nil)
	assert.False(t, s.IsRunning())
	assert.True(t, s.GetNextRun().IsZero())

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.False(t, s.GetNextRun().IsZero())

	assert.Error(t, s.Start())

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	// Stopping an already-stopped scheduler is a no-op.
	require.NoError(t, s.Stop())
}

func TestRunOncePollsInboundBeforeSweeping(t *testing.T) {
	source := &fakeSource{payloads: []mail.InboundPayload{{
		FromFull:  mail.InboundAddress{Email: "dana@corp.example.com"},
		ToFull:    []mail.InboundAddress{{Email: "amy@scheduler.example.com"}},
		Subject:   "Quarterly Sync",
		TextBody:  "Amy, please schedule this.",
		MessageID: "prov-poll-1",
	}}}
	s, repo := newTestScheduler(source)
	require.NoError(t, s.Start())
	defer s.Stop()

	s.RunOnce()
	s.Wait()

	assert.Equal(t, 1, source.fetches)
	assert.Equal(t, 1, repo.SessionCount())
}

func TestRunOnceWithoutSourceSweepsOnly(t *testing.T) {
	s, repo := newTestScheduler(nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	s.RunOnce()
	s.Wait()
	assert.Equal(t, 0, repo.SessionCount())
}
