package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/store"
)

const (
	// CodeLength is the number of characters in an invite code.
	CodeLength = 6

	// DefaultValidity applies when no validity is configured or requested.
	DefaultValidity = 24 * time.Hour

	// maxAttempts bounds code generation when a candidate collides with an
	// unused code.
	maxAttempts = 5

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

var (
	// ErrAlreadyRedeemed matches every *RedeemError, for callers that do not
	// care which reason lost the update.
	ErrAlreadyRedeemed = errors.New("invite code already redeemed")

	// ErrCodeSpaceExhausted is returned when every generated candidate collided.
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique invite code")
)

// Store is the persistence the manager needs. *store.InviteCodeStore
// satisfies it.
type Store interface {
	Create(ctx context.Context, code string, householdID, createdBy int64, createdAt, expiresAt time.Time) (*model.InviteCode, error)
	GetByID(ctx context.Context, id int64) (*model.InviteCode, error)
	GetLatestByCode(ctx context.Context, code string) (*model.InviteCode, error)
	LatestActive(ctx context.Context, householdID int64, now time.Time) (*model.InviteCode, error)
	MarkUsed(ctx context.Context, id, usedBy int64, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Manager struct {
	store    Store
	clock    func() time.Time
	validity time.Duration
	logger   *slog.Logger
	metrics  *metrics.Invites
	generate func() (string, error)
}

type Option func(*Manager)

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithValidity sets the default lifetime of new codes. Non-positive values
// keep DefaultValidity.
func WithValidity(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.validity = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithMetrics(inv *metrics.Invites) Option {
	return func(m *Manager) {
		m.metrics = inv
	}
}

func NewManager(s Store, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		clock:    time.Now,
		validity: DefaultValidity,
		logger:   slog.Default(),
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewInvites()
	}
	m.logger = m.logger.With("component", "invite")
	return m
}

// GenerateCode returns CodeLength characters drawn uniformly from [A-Z0-9].
func GenerateCode() (string, error) {
	// 252 is the largest multiple of 36 below 256; bytes at or above it are
	// rejected so every symbol is equally likely.
	const limit = 252

	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// Normalize trims and uppercases user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidFormat reports whether code has the shape of an invite code once
// normalized.
func ValidFormat(code string) bool {
	return codePattern.MatchString(Normalize(code))
}

// Create issues a new code for a household. A non-positive validity uses the
// manager's default.
func (m *Manager) Create(ctx context.Context, householdID, createdBy int64, validity time.Duration) (*model.InviteCode, error) {
	if validity <= 0 {
		validity = m.validity
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, err := m.generate()
		if err != nil {
			return nil, fmt.Errorf("generate invite code: %w", err)
		}

		now := m.clock()
		c, err := m.store.Create(ctx, code, householdID, createdBy, now, now.Add(validity))
		if errors.Is(err, store.ErrDuplicate) {
			m.logger.Debug("invite code collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create invite code: %w", err)
		}

		m.metrics.Created.Inc()
		m.logger.Info("invite code created", "household_id", householdID, "code_id", c.ID, "expires_at", c.ExpiresAt)
		return c, nil
	}
	return nil, ErrCodeSpaceExhausted
}

// Validate classifies a code without consuming it. Used takes precedence over
// expired, and a code whose expiry equals now is expired.
func (m *Manager) Validate(ctx context.Context, code string) Result {
	res := m.validate(ctx, code)
	m.metrics.Validations.WithLabelValues(res.label()).Inc()
	if res.Err != nil {
		m.logger.Error("invite code lookup failed", "error", res.Err)
	}
	return res
}

func (m *Manager) validate(ctx context.Context, code string) Result {
	code = Normalize(code)
	if !codePattern.MatchString(code) {
		return Result{Reason: ReasonNotFound}
	}

	c, err := m.store.GetLatestByCode(ctx, code)
	if err != nil {
		return Result{Reason: ReasonError, Err: err}
	}
	if c == nil {
		return Result{Reason: ReasonNotFound}
	}
	return classify(c, m.clock())
}

func classify(c *model.InviteCode, now time.Time) Result {
	switch {
	case c.IsUsed:
		return Result{Reason: ReasonUsed, Code: c}
	case !c.ExpiresAt.After(now):
		return Result{Reason: ReasonExpired, Code: c}
	default:
		return Result{Valid: true, Code: c}
	}
}

// RedeemError is returned by MarkUsed when the conditional update matched no
// row. Reason tells whether the code was taken or expired in the meantime.
type RedeemError struct {
	Reason Reason
}

func (e *RedeemError) Error() string {
	return "invite code " + string(e.Reason)
}

func (e *RedeemError) Unwrap() error {
	return ErrAlreadyRedeemed
}

// MarkUsed consumes a code for userID. When another redeemer won or the code
// expired since validation, the row is re-read and a *RedeemError carrying
// the specific reason is returned; it matches ErrAlreadyRedeemed.
func (m *Manager) MarkUsed(ctx context.Context, id, userID int64) error {
	res := m.markUsed(ctx, id, userID)
	m.metrics.Redemptions.WithLabelValues(res.label()).Inc()
	switch {
	case res.Valid:
		return nil
	case res.Reason == ReasonError:
		m.logger.Error("invite code redemption failed", "code_id", id, "error", res.Err)
		return fmt.Errorf("mark invite code used: %w", res.Err)
	default:
		return &RedeemError{Reason: res.Reason}
	}
}

func (m *Manager) markUsed(ctx context.Context, id, userID int64) Result {
	err := m.store.MarkUsed(ctx, id, userID, m.clock())
	switch {
	case err == nil:
		return Result{Valid: true}
	case errors.Is(err, store.ErrNotModified):
		return m.reclassify(ctx, id)
	default:
		return Result{Reason: ReasonError, Err: err}
	}
}

// Redeem validates and consumes code in one call.
func (m *Manager) Redeem(ctx context.Context, code string, userID int64) Result {
	res := m.Validate(ctx, code)
	if !res.Valid {
		m.metrics.Redemptions.WithLabelValues(res.label()).Inc()
		return res
	}

	var re *RedeemError
	err := m.MarkUsed(ctx, res.Code.ID, userID)
	switch {
	case err == nil:
		res.Code.IsUsed = true
		res.Code.UsedBy = &userID
		now := m.clock()
		res.Code.UsedAt = &now
	case errors.As(err, &re):
		res = Result{Reason: re.Reason, Code: res.Code}
	default:
		res = Result{Reason: ReasonError, Code: res.Code, Err: err}
	}
	return res
}

func (m *Manager) reclassify(ctx context.Context, id int64) Result {
	fresh, err := m.store.GetByID(ctx, id)
	if err != nil {
		return Result{Reason: ReasonError, Err: err}
	}
	if fresh == nil {
		// Swept between the update and the re-read.
		return Result{Reason: ReasonExpired}
	}
	res := classify(fresh, m.clock())
	if res.Valid {
		// Cannot match the conditional update yet still look valid; treat it
		// as taken.
		res = Result{Reason: ReasonUsed, Code: fresh}
	}
	return res
}

// Active returns the newest code of a household that can still be redeemed,
// or nil.
func (m *Manager) Active(ctx context.Context, householdID int64) (*model.InviteCode, error) {
	c, err := m.store.LatestActive(ctx, householdID, m.clock())
	if err != nil {
		return nil, fmt.Errorf("get active invite code: %w", err)
	}
	return c, nil
}

// CleanupExpired removes every expired code. Failures are logged and
// reported as zero deletions.
func (m *Manager) CleanupExpired(ctx context.Context) int64 {
	n, err := m.store.DeleteExpired(ctx, m.clock())
	if err != nil {
		m.logger.Error("invite code cleanup failed", "error", err)
		return 0
	}
	if n > 0 {
		m.metrics.Purged.Add(float64(n))
		m.logger.Info("expired invite codes removed", "count", n)
	}
	return n
}
