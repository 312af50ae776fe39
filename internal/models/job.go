package models

import "time"

// JobStatus is the lifecycle state stored on every job record.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents the main record for an analysis job in Firestore.
// It tracks the overall status and progress of one uploaded document.
type Job struct {
	ID             string    `firestore:"-" json:"id"`
	UserID         string    `firestore:"user_id" json:"user_id"`
	FileGCSPath    string    `firestore:"file_gcs_path" json:"file_gcs_path"`
	Status         JobStatus `firestore:"status" json:"status"`
	PageCount      int       `firestore:"page_count" json:"page_count"`
	ProcessedPages int       `firestore:"processed_pages" json:"processed_pages"`
	ErrorMessage   string    `firestore:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt      time.Time `firestore:"created_at,serverTimestamp" json:"created_at"`
	UpdatedAt      time.Time `firestore:"updated_at,serverTimestamp" json:"updated_at"`

	// FirstQuestion is a listing preview filled from page 1; never persisted.
	FirstQuestion string `firestore:"-" json:"first_question,omitempty"`
}

// QuestionAnswer is one extracted question with its worked answer.
type QuestionAnswer struct {
	Question          string `firestore:"question" json:"question"`
	Answer            string `firestore:"answer" json:"answer"`
	IsHomeworkProblem bool   `firestore:"is_homework_problem" json:"is_homework_problem"`
}

// PageResult is the persisted outcome of analyzing a single page of a job.
type PageResult struct {
	PageNumber int              `firestore:"page_number" json:"page_number"`
	Results    []QuestionAnswer `firestore:"results" json:"questions_and_answers"`
	CreatedAt  time.Time        `firestore:"created_at,serverTimestamp" json:"created_at"`
}
