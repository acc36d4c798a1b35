package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/config"
)

const classifySystemPrompt = `You are the intent router of an email meeting-scheduling assistant.
Classify what the latest message is doing in the context of the scheduling conversation.
Only classify. Never draft email content.`

const decideSystemPrompt = `You are an email meeting-scheduling assistant.
Given the conversation so far, the session state and the detected intent, decide the single next action
and draft the outgoing plain-text email body when one is needed.
When next_step is no_action_needed or error_cannot_schedule, recipients and email_body must be empty.
Otherwise both must be filled in.`

// intentResult is the wire schema of the classification stage.
type intentResult struct {
	Intent                string `json:"intent" jsonschema:"enum=new_request,enum=provide_availability,enum=propose_alternative,enum=confirm_time,enum=clarification_query,enum=request_cancellation,enum=request_reschedule,enum=simple_reply,enum=unknown"`
	RequestingParticipant string `json:"requesting_participant" jsonschema_description:"Email of the participant explicitly requesting cancellation or reschedule, empty otherwise"`
}

// actionResult is the wire schema of the decision stage.
type actionResult struct {
	NextStep          string   `json:"next_step" jsonschema:"enum=request_clarification,enum=ask_participant_availability,enum=propose_time_to_organizer,enum=propose_time_to_participant,enum=send_final_confirmation,enum=process_cancellation,enum=inform_organizer_of_participant_cancellation,enum=process_organizer_change_request,enum=process_participant_change_request,enum=no_action_needed,enum=error_cannot_schedule"`
	Recipients        []string `json:"recipients"`
	EmailBody         string   `json:"email_body"`
	ConfirmedDatetime string   `json:"confirmed_datetime" jsonschema_description:"RFC3339 datetime once a time is finally agreed, empty otherwise"`
}

// OpenAIEngine implements DecisionEngine over the OpenAI chat API with
// JSON-schema constrained outputs.
type OpenAIEngine struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIEngine creates the OpenAI-backed decision engine.
func NewOpenAIEngine(cfg *config.EngineConfig) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &OpenAIEngine{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}, nil
}

// ClassifyIntent implements DecisionEngine.
func (e *OpenAIEngine) ClassifyIntent(ctx context.Context, history []HistoryMessage, latest HistoryMessage, sc SessionContext) (Classification, error) {
	var result intentResult
	err := e.chat(ctx, classifySystemPrompt, buildUserPrompt(history, latest, sc, ""), "intent_classification", generateSchema[intentResult](), &result)
	if err != nil {
		return Classification{}, err
	}

	intent := Intent(result.Intent)
	if !intent.Valid() {
		logrus.Warnf("Decision engine returned unknown intent %q, treating as unknown", result.Intent)
		intent = IntentUnknown
	}
	return Classification{
		Intent:                intent,
		RequestingParticipant: strings.ToLower(strings.TrimSpace(result.RequestingParticipant)),
	}, nil
}

// DecideAction implements DecisionEngine.
func (e *OpenAIEngine) DecideAction(ctx context.Context, history []HistoryMessage, latest HistoryMessage, sc SessionContext, intent Intent) (Decision, error) {
	var result actionResult
	err := e.chat(ctx, decideSystemPrompt, buildUserPrompt(history, latest, sc, intent), "action_decision", generateSchema[actionResult](), &result)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		NextStep:  NextStep(result.NextStep),
		EmailBody: result.EmailBody,
	}
	for _, r := range result.Recipients {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			decision.Recipients = append(decision.Recipients, r)
		}
	}
	if result.ConfirmedDatetime != "" {
		if t, err := time.Parse(time.RFC3339, result.ConfirmedDatetime); err == nil {
			decision.ConfirmedTime = &t
		} else {
			logrus.Warnf("Decision engine returned unparseable confirmed datetime %q", result.ConfirmedDatetime)
		}
	}
	return decision, nil
}

func (e *OpenAIEngine) chat(ctx context.Context, system, user, schemaName string, schema any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	start := time.Now()
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("decision engine call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("decision engine returned no choices")
	}

	logrus.WithFields(logrus.Fields{
		"model":       e.model,
		"schema":      schemaName,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Decision engine call completed")

	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), result); err != nil {
		return fmt.Errorf("unmarshal decision engine response: %w", err)
	}
	return nil
}

// buildUserPrompt serializes the typed context at the boundary. Internally
// everything stays strongly typed.
func buildUserPrompt(history []HistoryMessage, latest HistoryMessage, sc SessionContext, intent Intent) string {
	var b strings.Builder

	ctxJSON, _ := json.MarshalIndent(sc, "", "  ")
	b.WriteString("Session state:\n")
	b.Write(ctxJSON)
	b.WriteString("\n\nConversation history (oldest first):\n")
	for _, m := range history {
		fmt.Fprintf(&b, "[%s] %s (%s):\n%s\n\n", m.Role, m.Sender, m.SentAt.Format(time.RFC3339), m.Body)
	}
	b.WriteString("Latest message:\n")
	fmt.Fprintf(&b, "[%s] %s:\n%s\n", latest.Role, latest.Sender, latest.Body)
	if intent != "" {
		fmt.Fprintf(&b, "\nDetected intent: %s\n", intent)
	}
	return b.String()
}

// generateSchema reflects a strict JSON schema for structured outputs.
func generateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
