package model

// QuestionType enumerates the answer formats the engine can score.
type QuestionType string

const (
	QuestionTypeMCQ       QuestionType = "MCQ"
	QuestionTypeMSQ       QuestionType = "MSQ"
	QuestionTypeNumerical QuestionType = "NUMERICAL"
)

// Question is an immutable exam question as supplied by the question bank.
type Question struct {
	ID            string       `json:"id"`
	SectionID     string       `json:"section_id"`
	Type          QuestionType `json:"type"`
	Text          string       `json:"text,omitempty"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer Answer       `json:"correct_answer"`
	Marks         float64      `json:"marks"`
	NegativeMarks float64      `json:"negative_marks"`
}

// QuestionForCandidate is a question without its answer key, sent to candidates.
type QuestionForCandidate struct {
	ID        string       `json:"id"`
	SectionID string       `json:"section_id"`
	Type      QuestionType `json:"type"`
	Text      string       `json:"text,omitempty"`
	Options   []string     `json:"options,omitempty"`
	Marks     float64      `json:"marks"`
	Negative  float64      `json:"negative_marks"`
}

// Section is an ordered, immutable group of questions.
type Section struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Questions      []Question `json:"questions"`
	Duration       int        `json:"duration_minutes"`
	QuestionsCount int        `json:"questions_count"`
}
