package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is a scoped transaction handle. All writes issued through it land
// together on commit or not at all.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) InsertQuestion(ctx context.Context, item Question) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO questions (id, title, content, author_id)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Title, item.Content, item.AuthorID)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (t *Tx) GetQuestion(ctx context.Context, questionID string) (Question, error) {
	var item Question
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, title, content, author_id, views, answers, upvotes, downvotes, created_at, updated_at
		FROM questions
		WHERE id = $1
	`, questionID).Scan(
		&item.ID,
		&item.Title,
		&item.Content,
		&item.AuthorID,
		&item.Views,
		&item.Answers,
		&item.Upvotes,
		&item.Downvotes,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Question{}, err
	}
	return item, nil
}

func (t *Tx) UpdateQuestionContent(ctx context.Context, questionID, title, content string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE questions SET title = $2, content = $3, updated_at = NOW() WHERE id = $1
	`, questionID, title, content)
	if err != nil {
		return fmt.Errorf("update question content: %w", err)
	}
	return nil
}

func (t *Tx) QuestionTags(ctx context.Context, questionID string) ([]Tag, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT t.id, t.name, t.questions
		FROM question_tags qt
		JOIN tags t ON t.id = qt.tag_id
		WHERE qt.question_id = $1
		ORDER BY qt.created_at ASC, t.id ASC
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list question tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.Name, &item.Questions); err != nil {
			return nil, fmt.Errorf("scan question tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question tags: %w", err)
	}
	return items, nil
}

// UpsertTagIncrement creates the tag with a usage count of one, or bumps the
// existing tag matched case-insensitively. One statement, so two concurrent
// writers introducing the same new name converge on a single row with the
// counter applied twice. The stored casing of an existing tag wins.
func (t *Tx) UpsertTagIncrement(ctx context.Context, tagID, name string) (Tag, error) {
	var item Tag
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO tags (id, name, questions)
		VALUES ($1, $2, 1)
		ON CONFLICT (LOWER(name)) DO UPDATE SET questions = tags.questions + 1
		RETURNING id, name, questions
	`, tagID, name).Scan(&item.ID, &item.Name, &item.Questions)
	if err != nil {
		return Tag{}, fmt.Errorf("upsert tag %q: %w", name, err)
	}
	return item, nil
}

// DecrementTagUsage lowers the counter without flooring at zero and without
// deleting the tag; orphan tags are left in place.
func (t *Tx) DecrementTagUsage(ctx context.Context, tagID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE tags SET questions = questions - 1 WHERE id = $1
	`, tagID)
	if err != nil {
		return fmt.Errorf("decrement tag usage: %w", err)
	}
	return nil
}

func (t *Tx) InsertQuestionTag(ctx context.Context, questionID, tagID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO question_tags (question_id, tag_id)
		VALUES ($1, $2)
	`, questionID, tagID)
	if err != nil {
		return fmt.Errorf("insert question tag: %w", err)
	}
	return nil
}

func (t *Tx) DeleteQuestionTag(ctx context.Context, questionID, tagID string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM question_tags WHERE question_id = $1 AND tag_id = $2
	`, questionID, tagID)
	if err != nil {
		return fmt.Errorf("delete question tag: %w", err)
	}
	return nil
}
