// Package app contains the validated-action pipeline and the question,
// tag, and session services behind the HTTP surface.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"devflow/api/internal/auth"
	"devflow/api/internal/authpw"
	"devflow/api/internal/config"
	"devflow/api/internal/media"
	"devflow/api/internal/store"
	"devflow/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	UserImage    string
	JTI          string
	ExpiresAt    time.Time
}

// questionTx is what mutation flows need from a transaction handle.
// *store.Tx satisfies it.
type questionTx interface {
	InsertQuestion(ctx context.Context, item store.Question) error
	GetQuestion(ctx context.Context, questionID string) (store.Question, error)
	UpdateQuestionContent(ctx context.Context, questionID, title, content string) error
	QuestionTags(ctx context.Context, questionID string) ([]store.Tag, error)
	tagTx
}

type dataStore interface {
	Connect(ctx context.Context) error
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	UpdateUserImage(ctx context.Context, userID, imageURL string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	GetQuestion(ctx context.Context, questionID string) (store.Question, error)
	CountQuestions(ctx context.Context, q store.ListQuery) (int, error)
	ListQuestions(ctx context.Context, q store.ListQuery) ([]store.Question, error)
	IncrementQuestionViews(ctx context.Context, questionID string) error
	RunTx(ctx context.Context, fn func(tx questionTx) error) error
}

// sqlStore adapts *store.PostgresStore to the dataStore interface by
// narrowing WithTx to the questionTx slice the service uses.
type sqlStore struct {
	*store.PostgresStore
}

func (s sqlStore) RunTx(ctx context.Context, fn func(tx questionTx) error) error {
	return s.WithTx(ctx, func(tx *store.Tx) error {
		return fn(tx)
	})
}

type refreshSessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// pgSessionStore is the fallback refresh-token backend when Redis is not
// configured.
type pgSessionStore struct {
	store dataStore
}

func (p pgSessionStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p pgSessionStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p pgSessionStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshSessionStore
	creds    *authpw.Service
	media    *media.Service
}

func New(cfg config.Config, pg *store.PostgresStore) *Service {
	service := &Service{
		cfg:   cfg,
		store: sqlStore{pg},
		creds: authpw.NewService(pg),
	}
	service.sessions = pgSessionStore{store: service.store}
	return service
}

// NewWithSessionStore swaps the refresh-token backend, typically for Redis.
func NewWithSessionStore(cfg config.Config, pg *store.PostgresStore, sessions refreshSessionStore) *Service {
	service := New(cfg, pg)
	service.sessions = sessions
	return service
}

// WithMedia attaches the optional avatar object store.
func (s *Service) WithMedia(mediaService *media.Service) *Service {
	s.media = mediaService
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- identity ---

func (s *Service) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	user, err := s.creds.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, Name: name})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.creds.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Image: user.ImageURL,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		UserImage:    user.ImageURL,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		UserImage: user.ImageURL,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- questions ---

// CreateQuestion inserts a question and reconciles its tags in one
// transaction; nothing persists if any step fails.
func (s *Service) CreateQuestion(ctx context.Context, token string, params AskQuestionParams) (store.Question, error) {
	actx, err := s.action(ctx, actionOptions{params: params, token: token, authorize: true})
	if err != nil {
		return store.Question{}, err
	}

	question := store.Question{
		ID:       util.NewID("qst"),
		Title:    strings.TrimSpace(params.Title),
		Content:  params.Content,
		AuthorID: actx.Session.UserID,
	}

	err = s.store.RunTx(ctx, func(tx questionTx) error {
		if err := tx.InsertQuestion(ctx, question); err != nil {
			return err
		}
		tags, err := reconcileTags(ctx, tx, question.ID, nil, params.Tags)
		if err != nil {
			return err
		}
		question.Tags = tags
		return nil
	})
	if err != nil {
		return store.Question{}, err
	}

	question.CreatedAt = time.Now()
	question.UpdatedAt = question.CreatedAt
	question.Author = store.Author{
		ID:       actx.Session.UserID,
		Name:     actx.Session.UserName,
		ImageURL: actx.Session.UserImage,
	}
	return question, nil
}

// EditQuestion updates title/content and reconciles the tag delta inside
// one transaction. Only the author may edit; anyone else gets the same
// generic denial as an unauthenticated caller.
func (s *Service) EditQuestion(ctx context.Context, token string, params EditQuestionParams) (store.Question, error) {
	actx, err := s.action(ctx, actionOptions{params: params, token: token, authorize: true})
	if err != nil {
		return store.Question{}, err
	}

	var updated store.Question
	err = s.store.RunTx(ctx, func(tx questionTx) error {
		current, err := tx.GetQuestion(ctx, params.QuestionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFoundError("Question")
			}
			return err
		}
		if current.AuthorID != actx.Session.UserID {
			return unauthorizedError()
		}

		title := strings.TrimSpace(params.Title)
		if title != current.Title || params.Content != current.Content {
			if err := tx.UpdateQuestionContent(ctx, current.ID, title, params.Content); err != nil {
				return err
			}
			current.Title = title
			current.Content = params.Content
			current.UpdatedAt = time.Now()
		}

		currentTags, err := tx.QuestionTags(ctx, current.ID)
		if err != nil {
			return err
		}
		tags, err := reconcileTags(ctx, tx, current.ID, currentTags, params.Tags)
		if err != nil {
			return err
		}
		current.Tags = tags
		updated = current
		return nil
	})
	if err != nil {
		return store.Question{}, err
	}

	updated.Author = store.Author{
		ID:       actx.Session.UserID,
		Name:     actx.Session.UserName,
		ImageURL: actx.Session.UserImage,
	}
	return updated, nil
}

func (s *Service) GetQuestion(ctx context.Context, token string, params GetQuestionParams) (store.Question, error) {
	if _, err := s.action(ctx, actionOptions{params: params, token: token, authorize: true}); err != nil {
		return store.Question{}, err
	}

	question, err := s.store.GetQuestion(ctx, params.QuestionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Question{}, notFoundError("Question")
		}
		return store.Question{}, fmt.Errorf("get question: %w", err)
	}
	return question, nil
}

// IncrementViews bumps the view counter; public, no session required.
func (s *Service) IncrementViews(ctx context.Context, params GetQuestionParams) error {
	if _, err := s.action(ctx, actionOptions{params: params}); err != nil {
		return err
	}
	if err := s.store.IncrementQuestionViews(ctx, params.QuestionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Question")
		}
		return err
	}
	return nil
}

type QuestionPage struct {
	Questions []store.Question
	IsNext    bool
}

// ListQuestions is the public paginated feed. The recommended filter is a
// deliberate stub that returns an empty page until recommendation signals
// exist.
func (s *Service) ListQuestions(ctx context.Context, params ListQuestionsParams) (QuestionPage, error) {
	if _, err := s.action(ctx, actionOptions{params: params}); err != nil {
		return QuestionPage{}, err
	}

	p := params.withDefaults()
	if p.Filter == FilterRecommended {
		return QuestionPage{Questions: []store.Question{}}, nil
	}

	query := store.ListQuery{
		Search:        p.Query,
		Unanswered:    p.Filter == FilterUnanswered,
		SortByUpvotes: p.Filter == FilterPopular,
		Limit:         p.PageSize,
		Offset:        (p.Page - 1) * p.PageSize,
	}

	total, err := s.store.CountQuestions(ctx, query)
	if err != nil {
		return QuestionPage{}, err
	}
	items, err := s.store.ListQuestions(ctx, query)
	if err != nil {
		return QuestionPage{}, err
	}

	return QuestionPage{
		Questions: items,
		IsNext:    total > query.Offset+len(items),
	}, nil
}

// --- avatars ---

// SetAvatar stores the uploaded image and records its URL on the user.
func (s *Service) SetAvatar(ctx context.Context, token, contentType string, body io.Reader, size int64) (string, error) {
	actx, err := s.action(ctx, actionOptions{token: token, authorize: true})
	if err != nil {
		return "", err
	}
	if s.media == nil {
		return "", domainError(http.StatusServiceUnavailable, "MEDIA_DISABLED", "Avatar storage is not configured", nil)
	}

	url, err := s.media.StoreAvatar(ctx, actx.Session.UserID, contentType, body, size)
	if err != nil {
		return "", fmt.Errorf("store avatar: %w", err)
	}
	if err := s.store.UpdateUserImage(ctx, actx.Session.UserID, url); err != nil {
		return "", err
	}
	return url, nil
}
