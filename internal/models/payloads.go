package models

// These structs define the JSON payloads exchanged with API clients.

// SubmitResponse is returned as soon as a job has been created.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// SolutionResponse is the job record merged with one page of results.
type SolutionResponse struct {
	*Job
	Results    []*PageResult `json:"results"`
	NextCursor *string       `json:"next_cursor"`
}

// DeleteAllResponse reports how many jobs a bulk delete removed.
type DeleteAllResponse struct {
	Message      string `json:"message"`
	DeletedCount int    `json:"deleted_count"`
}

// SourceURLResponse carries a short-lived download link for the original upload.
type SourceURLResponse struct {
	URL string `json:"url"`
}

// ChatMessage is one prior turn of an explanation conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExplainRequest is the body of an explanation request.
type ExplainRequest struct {
	Question    *QuestionAnswer `json:"question"`
	ChatHistory []ChatMessage   `json:"chat_history"`
}

// MessageResponse is the generic body for errors and acknowledgements.
type MessageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
