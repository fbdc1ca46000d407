package auth

import (
	"context"
	"errors"
	"sync"
)

// Session is the view of the signed-in user that a flow runs against.
// Flows receive one explicitly rather than reading it from ambient state.
type Session interface {
	// Current returns the signed-in principal, or nil if there is none.
	Current(ctx context.Context) (*Principal, error)
	SignInAnonymously(ctx context.Context) (*Principal, error)
	// Refresh reloads the principal after identity or membership changes.
	Refresh(ctx context.Context) (*Principal, error)
}

// RequestSession binds a Service to the token of one client request.
type RequestSession struct {
	svc *Service

	mu       sync.Mutex
	token    string
	current  *Principal
	resolved bool
}

func NewRequestSession(svc *Service, token string) *RequestSession {
	return &RequestSession{svc: svc, token: token}
}

// Token is the bearer token the client should keep; it changes after an
// anonymous sign-in.
func (s *RequestSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *RequestSession) Current(ctx context.Context) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return s.current, nil
	}
	if s.token == "" {
		s.resolved = true
		return nil, nil
	}

	p, err := s.svc.Resolve(ctx, s.token)
	if errors.Is(err, ErrInvalidSession) || errors.Is(err, ErrUserNotFound) {
		s.resolved = true
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.current, s.resolved = p, true
	return p, nil
}

func (s *RequestSession) SignInAnonymously(ctx context.Context) (*Principal, error) {
	p, err := s.svc.SignInAnonymously(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.current, s.resolved = p.Session.Token, p, true
	return p, nil
}

func (s *RequestSession) Refresh(ctx context.Context) (*Principal, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	p, err := s.svc.Refresh(ctx, token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current, s.resolved = p, true
	return p, nil
}
