package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/scoreflow/internal/gcp"
	"github.com/Lllllllleong/scoreflow/internal/models"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleModel     = "model"
)

// ChatStreamer continues a conversation and streams the reply as text chunks.
type ChatStreamer interface {
	StreamChat(ctx context.Context, history []*genai.Content, message string, emit func(string) error) error
}

// Explainer answers follow-up questions about one extracted question.
type Explainer struct {
	queries *JobQueries
	chat    ChatStreamer
	logger  *slog.Logger
}

func NewExplainer(queries *JobQueries, chat ChatStreamer, logger *slog.Logger) *Explainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Explainer{queries: queries, chat: chat, logger: logger}
}

// Explain streams an explanation of qa to emit. Ownership and input errors are returned before
// anything is emitted; a model failure after that is emitted as a final "Error: ..." chunk.
func (e *Explainer) Explain(ctx context.Context, owner, jobID string, qa *models.QuestionAnswer, history []models.ChatMessage, emit func(string) error) error {
	if qa == nil {
		return fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	if _, err := e.queries.Get(ctx, owner, jobID); err != nil {
		return err
	}
	if n := len(history); n > 0 && history[n-1].Role != roleUser {
		return fmt.Errorf("%w: the last chat message must come from the user", ErrInvalidInput)
	}

	prior, message := buildConversation(gcp.ChatContext(qa.Question, qa.Answer), history)

	var emitErr error
	err := e.chat.StreamChat(ctx, prior, message, func(chunk string) error {
		emitErr = emit(chunk)
		return emitErr
	})
	if err == nil {
		return nil
	}
	if emitErr != nil {
		return emitErr
	}
	e.logger.Error("Error getting AI explanation stream.", "jobId", jobID, "error", err)
	return emit(fmt.Sprintf("Error: Failed to get AI explanation. %v", err))
}

// buildConversation replays all but the last message as chat history and returns the last
// user message to send. The problem context is prepended to the first user turn. Turns are
// normalized to alternate user/model starting with the user: leading model turns are dropped
// and adjacent turns from the same role are joined.
func buildConversation(problemContext string, history []models.ChatMessage) ([]*genai.Content, string) {
	if len(history) == 0 {
		return nil, problemContext
	}

	type turn struct{ role, text string }
	var turns []turn
	contextUsed := false
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		var role string
		switch msg.Role {
		case roleUser:
			role = roleUser
			if !contextUsed {
				content = problemContext + gcp.ChatQuestionPrefix + content
				contextUsed = true
			}
		case roleAssistant, roleModel:
			if len(turns) == 0 {
				continue
			}
			role = roleModel
		default:
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text += "\n\n" + content
			continue
		}
		turns = append(turns, turn{role: role, text: content})
	}
	if len(turns) == 0 || turns[len(turns)-1].role != roleUser {
		return nil, problemContext
	}

	prior := make([]*genai.Content, 0, len(turns)-1)
	for _, t := range turns[:len(turns)-1] {
		prior = append(prior, &genai.Content{Role: t.role, Parts: []genai.Part{genai.Text(t.text)}})
	}
	return prior, turns[len(turns)-1].text
}
