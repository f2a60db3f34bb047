package app

import (
	"strings"
	"testing"
)

func TestAskQuestionParamsValidate(t *testing.T) {
	valid := AskQuestionParams{
		Title:   "How do goroutines get scheduled?",
		Content: "Curious about the runtime scheduler.",
		Tags:    []string{"go", "runtime"},
	}
	if errs := valid.Validate(); errs != nil {
		t.Fatalf("expected valid params, got %v", errs)
	}

	tests := []struct {
		name   string
		mutate func(*AskQuestionParams)
		field  string
	}{
		{name: "empty title", mutate: func(p *AskQuestionParams) { p.Title = "   " }, field: "title"},
		{name: "empty content", mutate: func(p *AskQuestionParams) { p.Content = "" }, field: "content"},
		{name: "no tags", mutate: func(p *AskQuestionParams) { p.Tags = nil }, field: "tags"},
		{name: "four tags", mutate: func(p *AskQuestionParams) { p.Tags = []string{"a", "b", "c", "d"} }, field: "tags"},
		{name: "blank tag", mutate: func(p *AskQuestionParams) { p.Tags = []string{"go", "  "} }, field: "tags"},
		{name: "duplicate tags differing in case", mutate: func(p *AskQuestionParams) { p.Tags = []string{"Go", "go"} }, field: "tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid
			tt.mutate(&params)
			errs := params.Validate()
			if len(errs[tt.field]) == 0 {
				t.Fatalf("expected error on %q, got %v", tt.field, errs)
			}
		})
	}
}

func TestTagNameLengthBoundary(t *testing.T) {
	fourteen := strings.Repeat("x", 14)
	if errs := validateTagNames([]string{fourteen}); errs != nil {
		t.Fatalf("14-character tag must pass, got %v", errs)
	}

	fifteen := strings.Repeat("x", 15)
	if errs := validateTagNames([]string{fifteen}); len(errs["tags"]) == 0 {
		t.Fatal("15-character tag must be rejected")
	}
}

func TestEditQuestionParamsRequireQuestionID(t *testing.T) {
	params := EditQuestionParams{
		Title:   "Title",
		Content: "Content",
		Tags:    []string{"go"},
	}
	errs := params.Validate()
	if len(errs["questionId"]) == 0 {
		t.Fatalf("expected questionId error, got %v", errs)
	}
}

func TestListQuestionsParamsValidate(t *testing.T) {
	if errs := (ListQuestionsParams{}).Validate(); errs != nil {
		t.Fatalf("zero params must validate, got %v", errs)
	}
	if errs := (ListQuestionsParams{Page: -1}).Validate(); len(errs["page"]) == 0 {
		t.Fatal("negative page must be rejected")
	}
	if errs := (ListQuestionsParams{PageSize: 101}).Validate(); len(errs["pageSize"]) == 0 {
		t.Fatal("oversized pageSize must be rejected")
	}
	if errs := (ListQuestionsParams{Filter: "trending"}).Validate(); len(errs["filter"]) == 0 {
		t.Fatal("unknown filter must be rejected")
	}
	if errs := (ListQuestionsParams{Filter: FilterPopular}).Validate(); errs != nil {
		t.Fatalf("known filter must pass, got %v", errs)
	}
}

func TestListQuestionsParamsDefaults(t *testing.T) {
	p := ListQuestionsParams{Query: "  generics  "}.withDefaults()
	if p.Page != 1 {
		t.Fatalf("expected default page 1, got %d", p.Page)
	}
	if p.PageSize != defaultPageSize {
		t.Fatalf("expected default page size %d, got %d", defaultPageSize, p.PageSize)
	}
	if p.Query != "generics" {
		t.Fatalf("expected trimmed query, got %q", p.Query)
	}
}
