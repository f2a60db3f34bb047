package app

import "strings"

// Each operation has its own parameter type in a closed set; the action
// pipeline accepts anything implementing schemaParams. An empty map means
// the input passed.
type schemaParams interface {
	Validate() map[string][]string
}

const (
	maxTagLength = 15
	maxTagCount  = 3

	defaultPageSize = 10
	maxPageSize     = 100
)

type AskQuestionParams struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (p AskQuestionParams) Validate() map[string][]string {
	fieldErrors := make(map[string][]string)
	if strings.TrimSpace(p.Title) == "" {
		fieldErrors["title"] = append(fieldErrors["title"], "Title is required")
	}
	if strings.TrimSpace(p.Content) == "" {
		fieldErrors["content"] = append(fieldErrors["content"], "Content is required")
	}
	for field, message := range validateTagNames(p.Tags) {
		fieldErrors[field] = append(fieldErrors[field], message...)
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

// validateTagNames enforces the 1..3 count, the under-15-character name
// limit, and case-insensitive uniqueness within one request.
func validateTagNames(tags []string) map[string][]string {
	fieldErrors := make(map[string][]string)
	if len(tags) == 0 {
		fieldErrors["tags"] = append(fieldErrors["tags"], "At least one tag is required")
	}
	if len(tags) > maxTagCount {
		fieldErrors["tags"] = append(fieldErrors["tags"], "A question cannot have more than 3 tags")
	}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		name := strings.TrimSpace(tag)
		if name == "" {
			fieldErrors["tags"] = append(fieldErrors["tags"], "Tag names cannot be empty")
			continue
		}
		if len([]rune(name)) >= maxTagLength {
			fieldErrors["tags"] = append(fieldErrors["tags"], "Tag names must be under 15 characters")
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			fieldErrors["tags"] = append(fieldErrors["tags"], "A question cannot list the same tag twice")
		}
		seen[key] = struct{}{}
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

type EditQuestionParams struct {
	QuestionID string   `json:"questionId"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
}

func (p EditQuestionParams) Validate() map[string][]string {
	fieldErrors := AskQuestionParams{Title: p.Title, Content: p.Content, Tags: p.Tags}.Validate()
	if strings.TrimSpace(p.QuestionID) == "" {
		if fieldErrors == nil {
			fieldErrors = make(map[string][]string)
		}
		fieldErrors["questionId"] = append(fieldErrors["questionId"], "Question ID is required")
	}
	return fieldErrors
}

type GetQuestionParams struct {
	QuestionID string `json:"questionId"`
}

func (p GetQuestionParams) Validate() map[string][]string {
	if strings.TrimSpace(p.QuestionID) == "" {
		return map[string][]string{"questionId": {"Question ID is required"}}
	}
	return nil
}

const (
	FilterNewest      = "newest"
	FilterUnanswered  = "unanswered"
	FilterPopular     = "popular"
	FilterRecommended = "recommended"
)

type ListQuestionsParams struct {
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Query    string `json:"query"`
	Filter   string `json:"filter"`
}

func (p ListQuestionsParams) Validate() map[string][]string {
	fieldErrors := make(map[string][]string)
	if p.Page < 0 {
		fieldErrors["page"] = append(fieldErrors["page"], "Page must be a positive integer")
	}
	if p.PageSize < 0 {
		fieldErrors["pageSize"] = append(fieldErrors["pageSize"], "Page size must be a positive integer")
	}
	if p.PageSize > maxPageSize {
		fieldErrors["pageSize"] = append(fieldErrors["pageSize"], "Page size cannot exceed 100")
	}
	switch p.Filter {
	case "", FilterNewest, FilterUnanswered, FilterPopular, FilterRecommended:
	default:
		fieldErrors["filter"] = append(fieldErrors["filter"], "Unknown filter")
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

// withDefaults fills the zero values left by omitted query parameters.
func (p ListQuestionsParams) withDefaults() ListQuestionsParams {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = defaultPageSize
	}
	p.Query = strings.TrimSpace(p.Query)
	return p
}
