package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"devflow/api/internal/auth"
	"devflow/api/internal/authpw"
	"devflow/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	opTimeout  time.Duration
}

func NewHTTPServer(service *Service, corsOrigin string, opTimeout time.Duration) *HTTPServer {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, opTimeout: opTimeout}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeData(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), s.opTimeout)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeFailure(w, http.StatusServiceUnavailable, "Database unavailable", map[string]any{
				"database": err.Error(),
			})
			return
		}
		writeData(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeData(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeData(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"userImage":     session.UserImage,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, "Refresh token invalid", nil)
			return
		}
		writeData(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeData(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.URL.Path == "/api/questions" {
		switch r.Method {
		case http.MethodGet:
			s.handleListQuestions(w, r)
		case http.MethodPost:
			s.handleAskQuestion(w, r)
		default:
			writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "questions" {
		questionID := parts[2]
		switch r.Method {
		case http.MethodGet:
			s.handleGetQuestion(w, r, questionID)
		case http.MethodPut:
			s.handleEditQuestion(w, r, questionID)
		default:
			writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "questions" && parts[3] == "views" {
		if r.Method != http.MethodPost {
			writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		s.handleIncrementViews(w, r, parts[2])
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "users" && parts[2] == "avatar" {
		if r.Method != http.MethodPut {
			writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		s.handleSetAvatar(w, r)
		return
	}

	writeFailure(w, http.StatusNotFound, "Not found", nil)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeFailure(w, http.StatusConflict, "Email already registered", nil)
			return
		}
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			writeFailure(w, domainErr.Status, domainErr.Message, domainErr.Details)
			return
		}
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	writeData(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeFailure(w, http.StatusUnauthorized, "Invalid email or password", nil)
			return
		}
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeData(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	params := ListQuestionsParams{
		Query:  strings.TrimSpace(r.URL.Query().Get("query")),
		Filter: strings.TrimSpace(r.URL.Query().Get("filter")),
	}
	for key, target := range map[string]*int{"page": &params.Page, "pageSize": &params.PageSize} {
		raw := strings.TrimSpace(r.URL.Query().Get(key))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeFailure(w, http.StatusUnprocessableEntity, "Validation failed", map[string][]string{
				key: {key + " must be an integer"},
			})
			return
		}
		*target = parsed
	}

	page, err := s.service.ListQuestions(r.Context(), params)
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}

	items := make([]map[string]any, 0, len(page.Questions))
	for _, q := range page.Questions {
		items = append(items, questionPayload(q))
	}
	writeData(w, http.StatusOK, map[string]any{
		"questions": items,
		"isNext":    page.IsNext,
	})
}

func (s *HTTPServer) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	var params AskQuestionParams
	if err := decodeBody(r, &params); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opTimeout)
	defer cancel()

	question, err := s.service.CreateQuestion(ctx, bearerToken(r), params)
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"question": questionPayload(question)})
}

func (s *HTTPServer) handleGetQuestion(w http.ResponseWriter, r *http.Request, questionID string) {
	question, err := s.service.GetQuestion(r.Context(), bearerToken(r), GetQuestionParams{QuestionID: questionID})
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"question": questionPayload(question)})
}

func (s *HTTPServer) handleEditQuestion(w http.ResponseWriter, r *http.Request, questionID string) {
	var body struct {
		Title   string   `json:"title"`
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opTimeout)
	defer cancel()

	question, err := s.service.EditQuestion(ctx, bearerToken(r), EditQuestionParams{
		QuestionID: questionID,
		Title:      body.Title,
		Content:    body.Content,
		Tags:       body.Tags,
	})
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"question": questionPayload(question)})
}

func (s *HTTPServer) handleIncrementViews(w http.ResponseWriter, r *http.Request, questionID string) {
	if err := s.service.IncrementViews(r.Context(), GetQuestionParams{QuestionID: questionID}); err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"questionId": questionID})
}

func (s *HTTPServer) handleSetAvatar(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opTimeout)
	defer cancel()

	url, err := s.service.SetAvatar(ctx, bearerToken(r), r.Header.Get("Content-Type"), r.Body, r.ContentLength)
	if err != nil {
		status, message, details := mapError(err)
		writeFailure(w, status, message, details)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"imageUrl": url})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"userImage":    session.UserImage,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func questionPayload(q store.Question) map[string]any {
	tags := make([]map[string]any, 0, len(q.Tags))
	for _, tag := range q.Tags {
		tags = append(tags, map[string]any{
			"id":        tag.ID,
			"name":      tag.Name,
			"questions": tag.Questions,
		})
	}
	return map[string]any{
		"id":      q.ID,
		"title":   q.Title,
		"content": q.Content,
		"author": map[string]any{
			"id":    q.Author.ID,
			"name":  q.Author.Name,
			"image": q.Author.ImageURL,
		},
		"tags":      tags,
		"views":     q.Views,
		"answers":   q.Answers,
		"upvotes":   q.Upvotes,
		"downvotes": q.Downvotes,
		"createdAt": q.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": q.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeData wraps every success in the same envelope so clients branch on
// one boolean.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"data":    data,
	})
}

func writeFailure(w http.ResponseWriter, status int, message string, details any) {
	failure := map[string]any{"message": message}
	if details != nil {
		failure["details"] = details
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   failure,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, "Server error", nil
}
