package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/scoreflow/internal/gcp"
	"github.com/Lllllllleong/scoreflow/internal/models"
)

// buildPDF renders a minimal valid PDF with the given number of blank pages.
// Page i (0-based) is 600+i points wide so split output can be matched to its source page.
func buildPDF(t *testing.T, pages int) []byte {
	t.Helper()
	var buf bytes.Buffer
	var offsets []int
	writeObj := func(body string) int {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
		return len(offsets)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, pages)
	for i := range kids {
		// Page i lives at object 3+2i, its content stream right after it.
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		content := 4 + 2*i
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d 792] /Resources << >> /Contents %d 0 R >>", 600+i, content))
		writeObj("<< /Length 3 >>\nstream\nq Q\nendstream")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

type storedBlob struct {
	data        []byte
	contentType string
}

// MockBlobs is an in-memory blob store.
type MockBlobs struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]storedBlob
	PutFunc func(name string) error
}

func newMockBlobs() *MockBlobs {
	return &MockBlobs{bucket: "test-bucket", objects: make(map[string]storedBlob)}
}

func (m *MockBlobs) add(name string, data []byte, contentType string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = storedBlob{data: data, contentType: contentType}
	return gcp.ObjectRef(m.bucket, name)
}

func (m *MockBlobs) Get(_ context.Context, ref string) ([]byte, string, error) {
	_, name, err := gcp.ParseObjectRef(ref)
	if err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", gcp.ErrObjectNotFound, ref)
	}
	return obj.data, obj.contentType, nil
}

func (m *MockBlobs) Put(_ context.Context, name string, content io.Reader, contentType string) (string, error) {
	if m.PutFunc != nil {
		if err := m.PutFunc(name); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	return m.add(name, data, contentType), nil
}

func (m *MockBlobs) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.objects {
		out = append(out, name)
	}
	return out
}

// MockGenerator stands in for the analyzer model.
type MockGenerator struct {
	GenerateContentFunc func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

func (m *MockGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFunc(ctx, parts...)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(text)}},
	}}}
}

// MockAnalyzer stands in for the page analyzer.
type MockAnalyzer struct {
	mu          sync.Mutex
	calls       int
	AnalyzeFunc func(call int, unit PageUnit) ([]models.QuestionAnswer, error)
}

func (m *MockAnalyzer) Analyze(_ context.Context, unit PageUnit) ([]models.QuestionAnswer, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	return m.AnalyzeFunc(call, unit)
}

// MockRunner stands in for the orchestrator behind a Dispatcher.
type MockRunner struct {
	RunFunc func(ctx context.Context, jobID, sourceRef string) error
}

func (m *MockRunner) Run(ctx context.Context, jobID, sourceRef string) error {
	return m.RunFunc(ctx, jobID, sourceRef)
}

// MockSigner records signing requests.
type MockSigner struct {
	bucket string
	name   string
	ttl    time.Duration
}

func (m *MockSigner) Sign(bucket, name string, ttl time.Duration) (string, error) {
	m.bucket, m.name, m.ttl = bucket, name, ttl
	return "https://signed.example/" + name, nil
}

// MockChat stands in for the streaming chat model.
type MockChat struct {
	StreamChatFunc func(ctx context.Context, history []*genai.Content, message string, emit func(string) error) error
}

func (m *MockChat) StreamChat(ctx context.Context, history []*genai.Content, message string, emit func(string) error) error {
	return m.StreamChatFunc(ctx, history, message, emit)
}
