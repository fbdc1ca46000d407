package onboarding

import (
	"context"
	"errors"
	"sync"

	"github.com/dukerupert/choreboard/internal/auth"
)

type State string

const (
	StateInitializing   State = "initializing"
	StateAuthenticating State = "authenticating"
	StateFormEntry      State = "form_entry"
	StateSubmitting     State = "submitting"
	StateSuccess        State = "success"
	StateFailed         State = "failed"
)

// Attempt tracks one pass through onboarding for a session: an optional
// anonymous sign-in followed by one or more form submissions. Failed
// submissions can be retried.
type Attempt struct {
	svc  *Service
	sess auth.Session

	mu       sync.Mutex
	state    State
	signedIn bool
	err      error
}

func (s *Service) NewAttempt(sess auth.Session) *Attempt {
	return &Attempt{svc: s, sess: sess, state: StateInitializing}
}

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err is the error of the last failed step, or nil.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Init signs in anonymously when the session has no user. The sign-in is
// tried at most once per attempt; on failure the attempt still moves to form
// entry and submission reports ErrAuthFailed.
func (a *Attempt) Init(ctx context.Context) {
	a.mu.Lock()
	if a.state != StateInitializing {
		a.mu.Unlock()
		return
	}
	a.state = StateAuthenticating
	a.mu.Unlock()

	var err error
	p, curErr := a.sess.Current(ctx)
	if curErr != nil {
		a.svc.logger.Warn("resolve session", "error", curErr)
	}
	if p == nil && !a.signedIn {
		a.signedIn = true
		if _, err = a.sess.SignInAnonymously(ctx); err != nil {
			a.svc.logger.Error("anonymous sign-in", "error", err)
			err = ErrAuthFailed
		}
	}

	a.mu.Lock()
	a.state, a.err = StateFormEntry, err
	a.mu.Unlock()
}

func (a *Attempt) begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateFormEntry, StateFailed:
		a.state = StateSubmitting
		return nil
	default:
		return ErrInvalidState
	}
}

func (a *Attempt) finish(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ve *ValidationError
	switch {
	case err == nil:
		a.state = StateSuccess
	case errors.As(err, &ve):
		a.state = StateFormEntry
	default:
		a.state = StateFailed
	}
	a.err = err
}

// Create submits the create-household form.
func (a *Attempt) Create(ctx context.Context, form CreateForm) (*CreateResult, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}
	res, err := a.svc.CreateHousehold(ctx, a.sess, form)
	a.finish(err)
	return res, err
}

// Join submits the join-household form.
func (a *Attempt) Join(ctx context.Context, form JoinForm) (*JoinResult, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}
	res, err := a.svc.JoinHousehold(ctx, a.sess, form)
	a.finish(err)
	return res, err
}
