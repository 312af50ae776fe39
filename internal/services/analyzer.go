package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Lllllllleong/scoreflow/internal/gcp"
	"github.com/Lllllllleong/scoreflow/internal/models"
)

// analysisSchema mirrors gcp.AnalysisResponseSchema and guards the decode of every model reply.
const analysisSchema = `{
  "type": "object",
  "required": ["questions_and_answers"],
  "properties": {
    "questions_and_answers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["question", "answer", "is_homework_problem"],
        "properties": {
          "question": {"type": "string"},
          "answer": {"type": "string"},
          "is_homework_problem": {"type": "boolean"}
        }
      }
    }
  }
}`

// ContentGenerator is the slice of *genai.GenerativeModel the analyzer needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Analyzer extracts question/answer records from a single page unit.
type Analyzer struct {
	model  ContentGenerator
	schema *jsonschema.Schema
	logger *slog.Logger
}

type analysisResponse struct {
	QuestionsAndAnswers []models.QuestionAnswer `json:"questions_and_answers"`
}

func NewAnalyzer(model ContentGenerator, logger *slog.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", strings.NewReader(analysisSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("analysis.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Analyzer{model: model, schema: schema, logger: logger}, nil
}

// Analyze sends the page to the model and returns its questions in the order the model gave them.
// Every failure is returned as an *AnalysisError.
func (a *Analyzer) Analyze(ctx context.Context, unit PageUnit) ([]models.QuestionAnswer, error) {
	if len(unit.Data) == 0 {
		return nil, &AnalysisError{Err: errors.New("page unit has no content")}
	}
	filePart := genai.Blob{
		MIMEType: unit.MimeType(),
		Data:     unit.Data,
	}

	resp, err := a.model.GenerateContent(ctx, genai.Text(gcp.AnalyzerUserPrompt), filePart)
	if err != nil {
		return nil, &AnalysisError{Err: fmt.Errorf("failed to generate content from gemini: %w", err)}
	}

	qas, err := a.parse(gcp.ResponseText(resp))
	if err != nil {
		return nil, &AnalysisError{Err: err}
	}
	a.logger.Info("Successfully processed page.", "questionCount", len(qas), "kind", unit.Kind)
	return qas, nil
}

func (a *Analyzer) parse(text string) ([]models.QuestionAnswer, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, errors.New("empty response from model")
	}

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := a.schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}

	var parsed analysisResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	qas := make([]models.QuestionAnswer, 0, len(parsed.QuestionsAndAnswers))
	for _, qa := range parsed.QuestionsAndAnswers {
		qas = append(qas, models.QuestionAnswer{
			Question:          strings.TrimSpace(qa.Question),
			Answer:            strings.TrimSpace(qa.Answer),
			IsHomeworkProblem: qa.IsHomeworkProblem,
		})
	}
	return qas, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
