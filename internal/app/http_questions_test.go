package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"devflow/api/internal/store"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestAskQuestionWithoutBearerReturnsUnauthorizedEnvelope(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", time.Second)

	body := `{"title":"Title","content":"Content","tags":["go"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/questions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeEnvelope(t, rr)
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload["success"])
	}
	failure, ok := payload["error"].(map[string]any)
	if !ok || failure["message"] == "" {
		t.Fatalf("expected error object with message, got %v", payload["error"])
	}
}

func TestAskQuestionReturnsValidationDetails(t *testing.T) {
	svc := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*", time.Second)

	body := `{"title":"Title","content":"Content","tags":["go","Go"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/questions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, "user-1"))
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeEnvelope(t, rr)
	failure, _ := payload["error"].(map[string]any)
	details, _ := failure["details"].(map[string]any)
	if details == nil || details["tags"] == nil {
		t.Fatalf("expected tags detail, got %v", failure)
	}
}

func TestAskQuestionSuccessEnvelope(t *testing.T) {
	tx := &fakeTx{}
	fs := &fakeStore{
		runTxFn: func(ctx context.Context, fn func(questionTx) error) error {
			return fn(tx)
		},
	}
	server := NewHTTPServer(newTestService(fs), "*", time.Second)

	body := `{"title":"Title","content":"Content","tags":["go"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/questions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, "user-1"))
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeEnvelope(t, rr)
	if payload["success"] != true {
		t.Fatalf("expected success=true, got %v", payload["success"])
	}
	data, _ := payload["data"].(map[string]any)
	question, _ := data["question"].(map[string]any)
	if question == nil || question["id"] == "" {
		t.Fatalf("expected question payload, got %v", data)
	}
	tags, _ := question["tags"].([]any)
	if len(tags) != 1 {
		t.Fatalf("expected one tag, got %v", question["tags"])
	}
}

func TestListQuestionsEnvelopeCarriesIsNext(t *testing.T) {
	fs := &fakeStore{
		countQuestionsFn: func(context.Context, store.ListQuery) (int, error) {
			return 12, nil
		},
		listQuestionsFn: func(_ context.Context, q store.ListQuery) ([]store.Question, error) {
			items := make([]store.Question, q.Limit)
			for i := range items {
				items[i] = store.Question{ID: "qst", Title: "T"}
			}
			return items, nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*", time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/questions?page=1&pageSize=10", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeEnvelope(t, rr)
	data, _ := payload["data"].(map[string]any)
	if data["isNext"] != true {
		t.Fatalf("expected isNext=true, got %v", data["isNext"])
	}
	questions, _ := data["questions"].([]any)
	if len(questions) != 10 {
		t.Fatalf("expected 10 questions, got %d", len(questions))
	}
}

func TestListQuestionsRejectsNonIntegerPage(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/questions?page=two", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetUnknownQuestionReturnsNotFoundEnvelope(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/questions/qst_missing", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, "user-1"))
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeEnvelope(t, rr)
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload["success"])
	}
}

func TestIncrementViewsIsPublic(t *testing.T) {
	var bumped string
	fs := &fakeStore{
		incrementViewsFn: func(_ context.Context, questionID string) error {
			bumped = questionID
			return nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*", time.Second)

	req := httptest.NewRequest(http.MethodPost, "/api/questions/qst_1/views", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if bumped != "qst_1" {
		t.Fatalf("expected view bump for qst_1, got %q", bumped)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*", time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected CORS origin=*, got %v", origin)
	}
}
