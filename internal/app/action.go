package app

import (
	"context"
	"fmt"
)

type actionOptions struct {
	params    schemaParams
	token     string
	authorize bool
}

type actionContext struct {
	Session Session
}

// action is the gate every operation passes through: schema validation,
// optional session resolution, and idempotent connection acquisition. No
// business logic runs here.
func (s *Service) action(ctx context.Context, opts actionOptions) (actionContext, error) {
	if opts.params != nil {
		if fieldErrors := opts.params.Validate(); len(fieldErrors) > 0 {
			return actionContext{}, validationError(fieldErrors)
		}
	}

	var session Session
	if opts.authorize {
		if opts.token == "" {
			return actionContext{}, unauthorizedError()
		}
		resolved, err := s.SessionFromToken(ctx, opts.token)
		if err != nil {
			return actionContext{}, unauthorizedError()
		}
		session = resolved
	}

	if err := s.store.Connect(ctx); err != nil {
		return actionContext{}, fmt.Errorf("acquire connection: %w", err)
	}

	return actionContext{Session: session}, nil
}
