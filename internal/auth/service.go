package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/store"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidSession     = errors.New("session invalid or expired")
	ErrInvalidToken       = errors.New("confirmation token invalid or expired")
	ErrNotAnonymous       = errors.New("identity is not anonymous")
	ErrUserNotFound       = errors.New("user not found")
)

// Mailer delivers email address confirmations.
type Mailer interface {
	SendEmailConfirmation(toEmail, token, displayName string) error
}

// Principal is a signed-in user with the session that authenticated them.
type Principal struct {
	User       *model.User
	Identity   *model.Identity
	Session    *model.Session
	Membership *model.HouseholdMember
}

// Context converts the principal into the value middleware attaches to requests.
func (p *Principal) Context() AuthContext {
	ac := AuthContext{
		UserID:    p.User.ID,
		SessionID: p.Session.ID,
		Token:     p.Session.Token,
		Anonymous: p.Identity.IsAnonymous,
	}
	if p.Membership != nil {
		ac.HouseholdID = p.Membership.HouseholdID
		ac.Role = p.Membership.Role
	}
	return ac
}

// Service issues sessions and owns identity changes.
type Service struct {
	users         *store.UserStore
	identities    *store.IdentityStore
	sessions      *store.SessionStore
	confirmations *store.EmailConfirmationStore
	households    *store.HouseholdStore
	mailer        Mailer
	logger        *slog.Logger
	clock         func() time.Time
	hashCost      int
}

type Option func(*Service)

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithHashCost overrides the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.hashCost = cost
	}
}

func NewService(
	us *store.UserStore,
	is *store.IdentityStore,
	ss *store.SessionStore,
	ecs *store.EmailConfirmationStore,
	hs *store.HouseholdStore,
	mailer Mailer,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		users:         us,
		identities:    is,
		sessions:      ss,
		confirmations: ecs,
		households:    hs,
		mailer:        mailer,
		logger:        logger.With("component", "auth"),
		clock:         time.Now,
		hashCost:      bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignInAnonymously creates a placeholder user with an anonymous identity and
// a session for it.
func (s *Service) SignInAnonymously(ctx context.Context) (*Principal, error) {
	u, ident, err := s.identities.CreateUser(ctx, model.AnonymousDisplayName, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create anonymous user: %w", err)
	}
	sess, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("anonymous sign-in", "user_id", u.ID)
	return &Principal{User: u, Identity: ident, Session: sess}, nil
}

// SignUp registers a permanent email identity and sends a confirmation.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*Principal, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, _, err := s.identities.CreateUser(ctx, displayName, &email, string(hash))
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	sess, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.sendConfirmation(ctx, u, email)
	return s.principal(ctx, sess)
}

// SignIn checks an email and password. Anonymous identities have no
// credentials and cannot sign in.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Principal, error) {
	ident, err := s.identities.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	if ident == nil || ident.IsAnonymous || ident.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(ctx, ident.UserID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.principal(ctx, sess)
}

// UpdateIdentity attaches an email and password to an anonymous identity,
// keeping its user id. A confirmation email is sent afterwards; delivery
// failures are logged only.
func (s *Service) UpdateIdentity(ctx context.Context, userID int64, email, password string) (*model.Identity, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err = s.identities.AttachEmail(ctx, userID, email, string(hash))
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return nil, ErrEmailTaken
	case errors.Is(err, store.ErrNotModified):
		ident, lookupErr := s.identities.GetByUserID(ctx, userID)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup identity: %w", lookupErr)
		}
		if ident == nil {
			return nil, ErrUserNotFound
		}
		return nil, ErrNotAnonymous
	case err != nil:
		return nil, fmt.Errorf("update identity: %w", err)
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Warn("load user for confirmation", "user_id", userID, "error", err)
	}
	if u != nil {
		s.sendConfirmation(ctx, u, email)
	}
	s.logger.Info("identity upgraded", "user_id", userID)

	ident, err := s.identities.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reload identity: %w", err)
	}
	return ident, nil
}

func (s *Service) sendConfirmation(ctx context.Context, u *model.User, email string) {
	ec, err := s.confirmations.Create(ctx, u.ID, email)
	if err != nil {
		s.logger.Error("create email confirmation", "user_id", u.ID, "error", err)
		return
	}
	if s.mailer == nil {
		s.logger.Warn("no mailer configured, confirmation not sent", "user_id", u.ID)
		return
	}
	if err := s.mailer.SendEmailConfirmation(email, ec.Token, u.DisplayName); err != nil {
		s.logger.Error("send email confirmation", "user_id", u.ID, "error", err)
	}
}

// ConfirmEmail consumes a confirmation token. A token issued for an address
// the identity no longer holds is rejected.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (*model.Identity, error) {
	ec, err := s.confirmations.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup confirmation: %w", err)
	}
	if ec == nil {
		return nil, ErrInvalidToken
	}

	now := s.clock()
	err = s.identities.MarkEmailConfirmed(ctx, ec.UserID, ec.Email, now)
	if errors.Is(err, store.ErrNotModified) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if err := s.confirmations.MarkConfirmed(ctx, ec.ID, now); err != nil {
		return nil, err
	}
	return s.identities.GetByUserID(ctx, ec.UserID)
}

// Resolve returns the principal for a live session token.
func (s *Service) Resolve(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil {
		return nil, ErrInvalidSession
	}
	return s.principal(ctx, sess)
}

// Refresh extends a live session and reloads the principal, picking up
// membership and identity changes made since it was issued.
func (s *Service) Refresh(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil {
		return nil, ErrInvalidSession
	}
	sess, err = s.sessions.Extend(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrInvalidSession
	}
	return s.principal(ctx, sess)
}

// SignOut deletes the session. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil {
		return nil
	}
	return s.sessions.Delete(ctx, sess.ID)
}

func (s *Service) principal(ctx context.Context, sess *model.Session) (*Principal, error) {
	u, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	ident, err := s.identities.GetByUserID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, ErrUserNotFound
	}
	member, err := s.households.GetMembership(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return &Principal{User: u, Identity: ident, Session: sess, Membership: member}, nil
}
