package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-delvita/scheduler-v4/internal/config"
	"github.com/max-delvita/scheduler-v4/internal/engine"
	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/metrics"
	"github.com/max-delvita/scheduler-v4/internal/model"
	"github.com/max-delvita/scheduler-v4/internal/nudge"
	"github.com/max-delvita/scheduler-v4/internal/repository/memory"
	"github.com/max-delvita/scheduler-v4/internal/workflow"
)

const testAssistant = "amy@scheduler.example.com"

var testMetrics = metrics.NewMetrics()

type stubSender struct {
	sends int
}

func (s *stubSender) SendThreaded(_ context.Context, _ mail.SendRequest) (string, error) {
	s.sends++
	return fmt.Sprintf("out-%d", s.sends), nil
}

type stubEngine struct{}

func (stubEngine) ClassifyIntent(_ context.Context, _ []engine.HistoryMessage, _ engine.HistoryMessage, _ engine.SessionContext) (engine.Classification, error) {
	return engine.Classification{Intent: engine.IntentNewRequest}, nil
}

func (stubEngine) DecideAction(_ context.Context, _ []engine.HistoryMessage, _ engine.HistoryMessage, _ engine.SessionContext, _ engine.Intent) (engine.Decision, error) {
	return engine.Decision{
		NextStep:   engine.StepAskParticipantAvailability,
		Recipients: []string{"alex@corp.example.com"},
		EmailBody:  "What times work for you?",
	}, nil
}

func testRouter(repo *memory.Repository) (*gin.Engine, *stubSender) {
	gin.SetMode(gin.TestMode)
	sender := &stubSender{}
	wf := workflow.New(repo, sender, stubEngine{}, testMetrics, nil, testAssistant)
	sweeper := nudge.NewSweeper(repo, sender, config.NudgeConfig{
		FirstReminder:  24 * time.Hour,
		SecondReminder: 48 * time.Hour,
		Escalation:     72 * time.Hour,
	}, testMetrics, nil)
	h := NewHandlers(nil, repo, wf, sweeper, nil)

	router := gin.New()
	router.POST("/webhook/inbound", h.InboundWebhook)
	router.POST("/nudge/run", h.RunNudgeSweep)
	router.GET("/api/sessions/:id", h.GetSession)
	router.GET("/api/sessions/:id/messages", h.GetSessionMessages)
	router.GET("/api/quarantine", h.GetQuarantine)
	return router, sender
}

func postJSON(router *gin.Engine, path string, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func TestInboundWebhookProcessesNewRequest(t *testing.T) {
	repo := memory.New()
	router, sender := testRouter(repo)

	payload, err := json.Marshal(mail.InboundPayload{
		FromFull:  mail.InboundAddress{Email: "dana@corp.example.com", Name: "Dana"},
		ToFull:    []mail.InboundAddress{{Email: testAssistant}, {Email: "alex@corp.example.com"}},
		Subject:   "Quarterly Sync",
		TextBody:  "Amy, please schedule this.",
		MessageID: "prov-http-1",
	})
	require.NoError(t, err)

	rec := postJSON(router, "/webhook/inbound", payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	var outcome workflow.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, workflow.OutcomeProcessed, outcome.Status)
	assert.NotEmpty(t, outcome.SessionID)
	assert.Equal(t, 1, sender.sends)
}

func TestInboundWebhookAlwaysReturns200(t *testing.T) {
	router, _ := testRouter(memory.New())

	rec := postJSON(router, "/webhook/inbound", []byte("{not json"))
	assert.Equal(t, http.StatusOK, rec.Code)

	var outcome workflow.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, workflow.OutcomeIgnored, outcome.Status)
}

func TestNudgeRunReturnsSummary(t *testing.T) {
	repo := memory.New()
	router, sender := testRouter(repo)
	require.NoError(t, repo.CreateSession(&model.Session{
		ID:             uuid.NewString(),
		OrganizerEmail: "dana@corp.example.com",
		Participants:   model.StringList{"alex@corp.example.com"},
		ParticipantStates: model.ParticipantStates{{
			Email:         "alex@corp.example.com",
			Status:        model.ParticipantStatusPending,
			LastRequestAt: time.Now().Add(-25 * time.Hour),
		}},
		Status: model.SessionStatusPendingParticipants,
	}))

	rec := postJSON(router, "/nudge/run", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var summary nudge.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.SessionsScanned)
	assert.Equal(t, 1, summary.RemindersSent)
	assert.Equal(t, 1, sender.sends)
}

func TestGetSession(t *testing.T) {
	repo := memory.New()
	router, _ := testRouter(repo)
	sess := &model.Session{
		ID:             uuid.NewString(),
		OrganizerEmail: "dana@corp.example.com",
		Status:         model.SessionStatusNew,
	}
	require.NoError(t, repo.CreateSession(sess))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, sess.ID, got.ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionMessages(t *testing.T) {
	repo := memory.New()
	router, _ := testRouter(repo)
	sess := &model.Session{ID: uuid.NewString(), OrganizerEmail: "dana@corp.example.com", Status: model.SessionStatusNew}
	require.NoError(t, repo.CreateSession(sess))
	require.NoError(t, repo.SaveMessage(&model.SessionMessage{
		SessionID:         sess.ID,
		ProviderMessageID: "prov-1",
		Role:              model.RoleOrganizer,
		Sender:            "dana@corp.example.com",
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID+"/messages", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		SessionID string                 `json:"session_id"`
		Messages  []model.SessionMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, sess.ID, body.SessionID)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, model.RoleOrganizer, body.Messages[0].Role)
}

func TestGetQuarantine(t *testing.T) {
	repo := memory.New()
	router, _ := testRouter(repo)
	require.NoError(t, repo.Quarantine(&model.QuarantinedEmail{
		ProviderMessageID: "prov-loop",
		Sender:            testAssistant,
		Reason:            "self-sender without valid routing token",
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quarantine?limit=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Quarantined []model.QuarantinedEmail `json:"quarantined"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Quarantined, 1)
	assert.Equal(t, "prov-loop", body.Quarantined[0].ProviderMessageID)
}
