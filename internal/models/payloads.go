package models

// QuizResult is the payload of a submit-quiz-result action.
type QuizResult struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	QuizID         string         `json:"quiz_id"`
	Score          int            `json:"score"`
	Answers        map[string]int `json:"answers"`
	CompletedAt    string         `json:"completed_at"`
	TotalQuestions int            `json:"total_questions"`
	CorrectAnswers int            `json:"correct_answers"`
}

// ProgressUpdate is the payload of an update-progress action.
type ProgressUpdate struct {
	UserID       string `json:"user_id,omitempty"`
	ModuleID     string `json:"moduleId"`
	Progress     int    `json:"progress"`
	LastActivity string `json:"lastActivity,omitempty"`
}

// SimulationRun is the payload of a save-simulation-run action.
type SimulationRun struct {
	UserID        string        `json:"user_id,omitempty"`
	AlgorithmType string        `json:"algorithmType"`
	Steps         []interface{} `json:"steps"`
	Result        interface{}   `json:"result"`
}
