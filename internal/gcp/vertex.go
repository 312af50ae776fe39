package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

// --- Analyzer Model Prompts ---
const AnalyzerSystemPrompt = "You are an expert math solver with advanced OCR capabilities. You extract questions from document pages and answer them accurately."
const AnalyzerUserPrompt = `Analyze the provided image of a document page carefully. Your task is to extract questions and answers only for subjects like Math, Science, or English. For each extracted question, determine if it is a homework problem that needs to be solved.

Your task:
1. First, perform OCR to extract all text from the image, paying special attention to:
   - Equations
   - Mathematical symbols
   - Textual descriptions
2. Identify mathematical, science, or english problems or expressions in the text. Ignore other content.
3. For each problem, determine if it is a homework problem.
4. Solve the problem step by step, ensuring all calculations are performed accurately.
5. Provide a detailed explanation of your solution, including all necessary steps and calculations.
6. Format your response in markdown format, don't need to use latex symbols, keep all the text in the same language as the question. When you need to go to the new line, use \n\n instead of \n.
7. If the problem is a multiple choice, fill in the blank, short answer or long answer question, provide the correct answer and the explanation for why it is the correct answer.
8. Make the response in paragraphs format, easy to read and understand.

### Format
Use only markdown format to write the answers. Don't use html tags or latex symbols.
Return the questions in the order they appear on the page.`

// --- Chat Model Prompts ---
const ChatContextPrompt = `You are an AI assistant. A user is asking for help with the following math problem from a document. Your task is to answer their questions about it.

Here is the problem context:
--------------------
Question: %s

Correct Answer: %s
--------------------
### Format
Format your response in markdown format, don't need to use latex symbols, keep all the text in the same language as the question. When you need to go to the new line, use \n\n instead of \n.
Use only markdown format to write the response. Don't use html tags or latex symbols like <br>.`

// ChatQuestionPrefix joins the problem context to the user's first question.
const ChatQuestionPrefix = "\n\nHere is my question:\n"

// AnalysisResponseSchema is the structured output requested from the analyzer model.
var AnalysisResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"questions_and_answers": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"question":            {Type: genai.TypeString},
					"answer":              {Type: genai.TypeString},
					"is_homework_problem": {Type: genai.TypeBoolean},
				},
				Required: []string{"question", "answer", "is_homework_problem"},
			},
		},
	},
	Required: []string{"questions_and_answers"},
}

// ChatContext renders the problem context that opens every explanation chat.
func ChatContext(question, answer string) string {
	return fmt.Sprintf(ChatContextPrompt, question, answer)
}

// VertexClient holds all pre-configured generative models for our app.
type VertexClient struct {
	AnalyzerModel *genai.GenerativeModel
	ChatModel     *genai.GenerativeModel
	baseClient    *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the analyzer model ---
	analyzerModel := baseClient.GenerativeModel(modelName)
	analyzerModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(AnalyzerSystemPrompt)},
	}
	analyzerModel.GenerationConfig = genai.GenerationConfig{
		// Structured output is parsed downstream; free text would fail the page.
		ResponseMIMEType: "application/json",
		ResponseSchema:   AnalysisResponseSchema,
		Temperature:      genai.Ptr[float32](0.2),
	}

	// --- Configure the chat model ---
	chatModel := baseClient.GenerativeModel(modelName)

	return &VertexClient{
		AnalyzerModel: analyzerModel,
		ChatModel:     chatModel,
		baseClient:    baseClient,
	}, nil
}

// StreamChat resumes a chat from history, sends message and emits each streamed text chunk.
func (c *VertexClient) StreamChat(ctx context.Context, history []*genai.Content, message string, emit func(string) error) error {
	cs := c.ChatModel.StartChat()
	cs.History = history

	iter := cs.SendMessageStream(ctx, genai.Text(message))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chat stream: %w", err)
		}
		if text := ResponseText(resp); text != "" {
			if err := emit(text); err != nil {
				return err
			}
		}
	}
}

// ResponseText concatenates the text parts of the first candidate, or returns "" when there are none.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
