package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type PostgresStore struct {
	db *sql.DB

	connectMu sync.Mutex
	connected bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Connect verifies the pool has a usable connection. Safe to call from
// concurrent requests; after the first successful ping it is a no-op.
func (s *PostgresStore) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	if s.connected {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	s.connected = true
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, image_url)
		VALUES ($1, $2, LOWER($3), $4, $5)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.ImageURL)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, COALESCE(image_url, '')
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.ImageURL)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, COALESCE(image_url, '')
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.ImageURL)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserImage(ctx context.Context, userID, imageURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET image_url = $2, updated_at = NOW() WHERE id = $1
	`, userID, imageURL)
	if err != nil {
		return fmt.Errorf("update user image: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, COALESCE(u.image_url, '')
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.Name, &user.Email, &user.ImageURL)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const questionColumns = `
	q.id, q.title, q.content, q.author_id, q.views, q.answers, q.upvotes, q.downvotes,
	q.created_at, q.updated_at,
	u.display_name, COALESCE(u.image_url, '')
`

func (s *PostgresStore) GetQuestion(ctx context.Context, questionID string) (Question, error) {
	var item Question
	err := s.db.QueryRowContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions q
		JOIN users u ON u.id = q.author_id
		WHERE q.id = $1
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
		&item.Author.Name,
		&item.Author.ImageURL,
	)
	if err != nil {
		return Question{}, err
	}
	item.Author.ID = item.AuthorID

	tags, err := s.QuestionTags(ctx, questionID)
	if err != nil {
		return Question{}, err
	}
	item.Tags = tags
	return item, nil
}

// QuestionTags resolves the tags joined to a question, in join-insertion order.
func (s *PostgresStore) QuestionTags(ctx context.Context, questionID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *PostgresStore) GetTagByName(ctx context.Context, name string) (Tag, error) {
	var item Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, questions FROM tags WHERE LOWER(name) = LOWER($1)
	`, name).Scan(&item.ID, &item.Name, &item.Questions)
	if err != nil {
		return Tag{}, err
	}
	return item, nil
}

func listConditions(q ListQuery) (string, []any) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 1)
	if q.Search != "" {
		pattern := "%" + escapeLike(q.Search) + "%"
		args = append(args, pattern)
		where = append(where, fmt.Sprintf("(q.title ILIKE $%d OR q.content ILIKE $%d)", len(args), len(args)))
	}
	if q.Unanswered {
		where = append(where, "q.answers = 0")
	}
	if len(where) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(where, " AND "), args
}

// escapeLike neutralizes LIKE metacharacters so a user query matches as a
// literal substring.
func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (s *PostgresStore) CountQuestions(ctx context.Context, q ListQuery) (int, error) {
	where, args := listConditions(q)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions q `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, q ListQuery) ([]Question, error) {
	where, args := listConditions(q)
	orderBy := "q.created_at DESC"
	if q.SortByUpvotes {
		orderBy = "q.upvotes DESC, q.created_at DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT `+questionColumns+`
		FROM questions q
		JOIN users u ON u.id = q.author_id
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, where, orderBy, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		var item Question
		if err := rows.Scan(
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
			&item.Author.Name,
			&item.Author.ImageURL,
		); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		item.Author.ID = item.AuthorID
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}

	for i := range items {
		tags, err := s.QuestionTags(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Tags = tags
	}
	return items, nil
}

func (s *PostgresStore) IncrementQuestionViews(ctx context.Context, questionID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE questions SET views = views + 1 WHERE id = $1
	`, questionID)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment views rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// WithTx runs fn inside a single transaction. The transaction is always
// ended before return: committed when fn succeeds, rolled back otherwise.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback tx after %w: %v", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
