package model

import "time"

// ResultExport is the top-level JSON structure for result export.
type ResultExport struct {
	QuizID      string        `json:"quiz_id"`
	Title       string        `json:"title"`
	Difficulty  Difficulty    `json:"difficulty"`
	ExportedAt  time.Time     `json:"exported_at"`
	NumProblems int           `json:"num_problems"`
	Results     []TakerResult `json:"results"`
	Summary     ExportSummary `json:"summary"`
}

// TakerResult holds one graded attempt for export.
type TakerResult struct {
	ResultID      string         `json:"result_id"`
	StudentName   string         `json:"student_name,omitempty"`
	AnonymousName string         `json:"anonymous_name,omitempty"`
	AttemptNumber int            `json:"attempt_number"`
	Score         int            `json:"score"`
	Total         int            `json:"total"`
	CompletedAt   time.Time      `json:"completed_at"`
	Answers       []AnswerRecord `json:"answers"`
}

// ExportSummary aggregates the exported attempts.
type ExportSummary struct {
	Attempts     int     `json:"attempts"`
	AverageScore float64 `json:"average_score"`
	// MissedWords counts incorrect answers per target word.
	MissedWords map[string]int `json:"missed_words"`
}
