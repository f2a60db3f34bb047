package app

import (
	"context"
	"strings"

	"devflow/api/internal/store"
	"devflow/api/internal/util"
)

// tagTx is the slice of the transaction handle the reconciliation engine
// needs; it never commits.
type tagTx interface {
	UpsertTagIncrement(ctx context.Context, tagID, name string) (store.Tag, error)
	DecrementTagUsage(ctx context.Context, tagID string) error
	InsertQuestionTag(ctx context.Context, questionID, tagID string) error
	DeleteQuestionTag(ctx context.Context, questionID, tagID string) error
}

type tagDelta struct {
	toAdd    []string
	toRemove []store.Tag
	kept     []store.Tag
}

// tagChanges computes the add/remove delta between a question's current
// tags and the desired names, matching case-insensitively. Callers validate
// names before reaching here; oversized or duplicate names are still
// rejected defensively.
func tagChanges(current []store.Tag, desired []string) (tagDelta, *DomainError) {
	seen := make(map[string]struct{}, len(desired))
	names := make([]string, 0, len(desired))
	for _, raw := range desired {
		name := strings.TrimSpace(raw)
		if name == "" || len([]rune(name)) >= maxTagLength {
			return tagDelta{}, validationError(map[string][]string{
				"tags": {"Tag names must be between 1 and 14 characters"},
			})
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return tagDelta{}, validationError(map[string][]string{
				"tags": {"A question cannot list the same tag twice"},
			})
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}

	currentByName := make(map[string]store.Tag, len(current))
	for _, tag := range current {
		currentByName[strings.ToLower(tag.Name)] = tag
	}

	var delta tagDelta
	for _, name := range names {
		if _, exists := currentByName[strings.ToLower(name)]; !exists {
			delta.toAdd = append(delta.toAdd, name)
		}
	}
	for _, tag := range current {
		if _, wanted := seen[strings.ToLower(tag.Name)]; wanted {
			delta.kept = append(delta.kept, tag)
		} else {
			delta.toRemove = append(delta.toRemove, tag)
		}
	}
	return delta, nil
}

// reconcileTags applies the delta on the caller's transaction: additions
// run through the atomic upsert-with-increment and gain a join row,
// removals decrement the counter and drop the join row. Returns the
// question's resulting tag set, kept tags first.
func reconcileTags(ctx context.Context, tx tagTx, questionID string, current []store.Tag, desired []string) ([]store.Tag, error) {
	delta, verr := tagChanges(current, desired)
	if verr != nil {
		return nil, verr
	}

	final := make([]store.Tag, 0, len(delta.kept)+len(delta.toAdd))
	final = append(final, delta.kept...)

	for _, name := range delta.toAdd {
		tag, err := tx.UpsertTagIncrement(ctx, util.NewID("tag"), name)
		if err != nil {
			return nil, err
		}
		if err := tx.InsertQuestionTag(ctx, questionID, tag.ID); err != nil {
			return nil, err
		}
		final = append(final, tag)
	}

	for _, tag := range delta.toRemove {
		if err := tx.DecrementTagUsage(ctx, tag.ID); err != nil {
			return nil, err
		}
		if err := tx.DeleteQuestionTag(ctx, questionID, tag.ID); err != nil {
			return nil, err
		}
	}

	return final, nil
}
