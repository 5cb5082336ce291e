package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ExamRepository reads question bank snapshots.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetExamConfig loads an exam with its sections and questions in order.
// Returns pgx.ErrNoRows if the exam does not exist.
func (r *ExamRepository) GetExamConfig(ctx context.Context, examID uuid.UUID) (*model.ExamConfig, error) {
	cfg := &model.ExamConfig{}
	var durationMinutes int
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, status, duration_minutes FROM exams WHERE id = $1`, examID,
	).Scan(&cfg.ExamID, &cfg.Title, &cfg.Status, &durationMinutes)
	if err != nil {
		return nil, err
	}
	cfg.TotalDuration = time.Duration(durationMinutes) * time.Minute

	sections, err := r.listSections(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	byID := make(map[string]int, len(sections))
	for i := range sections {
		byID[sections[i].ID] = i
	}

	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.section_id, q.question_type, q.question_text, q.options,
		        q.correct_answer, q.marks, q.negative_marks
		 FROM questions q
		 JOIN exam_sections s ON s.exam_id = q.exam_id AND s.id = q.section_id
		 WHERE q.exam_id = $1
		 ORDER BY s.order_num, q.order_num`, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SectionID, &q.Type, &q.Text, &q.Options,
			&q.CorrectAnswer, &q.Marks, &q.NegativeMarks); err != nil {
			return nil, err
		}
		idx, ok := byID[q.SectionID]
		if !ok {
			continue
		}
		sections[idx].Questions = append(sections[idx].Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sections {
		sections[i].QuestionsCount = len(sections[i].Questions)
	}
	cfg.Sections = sections
	return cfg, nil
}

func (r *ExamRepository) listSections(ctx context.Context, examID uuid.UUID) ([]model.Section, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, duration_minutes FROM exam_sections
		 WHERE exam_id = $1 ORDER BY order_num`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []model.Section
	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.ID, &s.Name, &s.Duration); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}
