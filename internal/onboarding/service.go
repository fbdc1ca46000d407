package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/chore"
	"github.com/dukerupert/choreboard/internal/invite"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/store"
)

// Households is the household and membership storage the flows need.
type Households interface {
	Create(ctx context.Context, name string, settlementDay int) (*model.Household, error)
	GetByID(ctx context.Context, id int64) (*model.Household, error)
	AddMember(ctx context.Context, householdID, userID int64, role string) (*model.HouseholdMember, error)
	GetMembership(ctx context.Context, userID int64) (*model.HouseholdMember, error)
}

type Users interface {
	UpdateDisplayName(ctx context.Context, id int64, name string) (*model.User, error)
}

type Chores interface {
	Count(ctx context.Context, householdID int64) (int, error)
	CreateMany(ctx context.Context, householdID int64, chores []model.Chore) ([]model.Chore, error)
}

// Invites is the subset of *invite.Manager the flows use.
type Invites interface {
	Create(ctx context.Context, householdID, createdBy int64, validity time.Duration) (*model.InviteCode, error)
	Validate(ctx context.Context, code string) invite.Result
	MarkUsed(ctx context.Context, id, userID int64) error
	Active(ctx context.Context, householdID int64) (*model.InviteCode, error)
}

type Service struct {
	households Households
	users      Users
	chores     Chores
	invites    Invites
	logger     *slog.Logger
}

func NewService(hs Households, us Users, cs Chores, inv Invites, logger *slog.Logger) *Service {
	return &Service{
		households: hs,
		users:      us,
		chores:     cs,
		invites:    inv,
		logger:     logger.With("component", "onboarding"),
	}
}

// CreateResult is what the creator needs to share the new household.
type CreateResult struct {
	Household *model.Household
	Invite    *model.InviteCode
	Principal *auth.Principal
	// Resumed is set when an earlier, partially completed attempt was picked up.
	Resumed bool
}

// JoinResult describes the household the user ended up in.
type JoinResult struct {
	Household     *model.Household
	Member        *model.HouseholdMember
	Principal     *auth.Principal
	AlreadyMember bool
}

func (s *Service) currentUser(ctx context.Context, sess auth.Session) (*auth.Principal, error) {
	p, err := sess.Current(ctx)
	if err != nil {
		s.logger.Error("resolve current user", "error", err)
		return nil, ErrAuthFailed
	}
	if p == nil {
		return nil, ErrAuthFailed
	}
	return p, nil
}

// CreateHousehold makes the signed-in user the admin of a new household,
// seeds starter chores and issues an invite code. Steps are not rolled back;
// a retry after a partial failure resumes from the household already created.
func (s *Service) CreateHousehold(ctx context.Context, sess auth.Session, form CreateForm) (*CreateResult, error) {
	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return nil, err
	}

	p, err := s.currentUser(ctx, sess)
	if err != nil {
		return nil, err
	}
	userID := p.User.ID
	logger := s.logger.With("user_id", userID)

	membership, err := s.households.GetMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup membership: %w", err)
	}

	res := &CreateResult{}
	switch {
	case membership != nil && membership.Role != model.RoleAdmin:
		return nil, ErrAlreadyInHousehold

	case membership != nil:
		h, err := s.households.GetByID(ctx, membership.HouseholdID)
		if err != nil {
			return nil, fmt.Errorf("load household: %w", err)
		}
		if h == nil {
			return nil, fmt.Errorf("load household %d: not found", membership.HouseholdID)
		}
		res.Household, res.Resumed = h, true
		logger.Info("resuming household creation", "household_id", h.ID)

	default:
		h, err := s.households.Create(ctx, form.HouseholdName, model.DefaultSettlementDay)
		if err != nil {
			return nil, fmt.Errorf("create household: %w", err)
		}
		if _, err := s.households.AddMember(ctx, h.ID, userID, model.RoleAdmin); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return nil, ErrAlreadyInHousehold
			}
			return nil, fmt.Errorf("add admin member: %w", err)
		}
		res.Household = h
	}
	hid := res.Household.ID

	seed := true
	if res.Resumed {
		n, err := s.chores.Count(ctx, hid)
		if err != nil {
			return nil, fmt.Errorf("count chores: %w", err)
		}
		seed = n == 0
	}
	if seed {
		if _, err := s.chores.CreateMany(ctx, hid, chore.Defaults()); err != nil {
			return nil, fmt.Errorf("seed chores: %w", err)
		}
	}

	if res.Resumed {
		res.Invite, err = s.invites.Active(ctx, hid)
		if err != nil {
			return nil, fmt.Errorf("lookup invite code: %w", err)
		}
	}
	if res.Invite == nil {
		res.Invite, err = s.invites.Create(ctx, hid, userID, 0)
		if err != nil {
			return nil, fmt.Errorf("create invite code: %w", err)
		}
	}

	if p.User.HasPlaceholderName() {
		if _, err := s.users.UpdateDisplayName(ctx, userID, form.UserName); err != nil {
			return nil, fmt.Errorf("update display name: %w", err)
		}
	}

	res.Principal = s.refresh(ctx, sess, p)
	logger.Info("household created", "household_id", hid, "resumed", res.Resumed)
	return res, nil
}

// JoinHousehold adds the signed-in user to the household of an invite code
// and consumes the code. Joining a household the user already belongs to
// succeeds without touching the code, and a retry after a failure that
// followed the redemption picks up with the code this user consumed.
func (s *Service) JoinHousehold(ctx context.Context, sess auth.Session, form JoinForm) (*JoinResult, error) {
	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return nil, err
	}

	p, err := s.currentUser(ctx, sess)
	if err != nil {
		return nil, err
	}
	userID := p.User.ID
	logger := s.logger.With("user_id", userID)

	check := s.invites.Validate(ctx, form.InviteCode)

	membership, err := s.households.GetMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup membership: %w", err)
	}
	if membership != nil && check.Code != nil && membership.HouseholdID == check.Code.HouseholdID {
		h, err := s.households.GetByID(ctx, membership.HouseholdID)
		if err != nil {
			return nil, fmt.Errorf("load household: %w", err)
		}
		logger.Info("already a member", "household_id", membership.HouseholdID)
		return &JoinResult{Household: h, Member: membership, Principal: p, AlreadyMember: true}, nil
	}

	// A code this user consumed without becoming a member is left over from
	// a join that failed after redeeming it; finish that join.
	resume := membership == nil && check.Reason == invite.ReasonUsed && check.Code != nil &&
		check.Code.UsedBy != nil && *check.Code.UsedBy == userID

	if !check.Valid && !resume {
		return nil, &InviteError{Reason: check.Reason, Err: check.Err}
	}
	if membership != nil {
		return nil, ErrAlreadyInHousehold
	}

	code := check.Code
	if resume {
		logger.Info("resuming join", "household_id", code.HouseholdID, "code_id", code.ID)
	} else if err := s.invites.MarkUsed(ctx, code.ID, userID); err != nil {
		var re *invite.RedeemError
		switch {
		case errors.As(err, &re):
			return nil, &InviteError{Reason: re.Reason}
		case errors.Is(err, invite.ErrAlreadyRedeemed):
			return nil, &InviteError{Reason: invite.ReasonUsed}
		}
		return nil, fmt.Errorf("redeem invite code: %w", err)
	}

	member, err := s.households.AddMember(ctx, code.HouseholdID, userID, model.RoleMember)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyInHousehold
		}
		return nil, fmt.Errorf("add member: %w", err)
	}

	if p.User.HasPlaceholderName() {
		if _, err := s.users.UpdateDisplayName(ctx, userID, form.UserName); err != nil {
			return nil, fmt.Errorf("update display name: %w", err)
		}
	}

	h, err := s.households.GetByID(ctx, code.HouseholdID)
	if err != nil {
		return nil, fmt.Errorf("load household: %w", err)
	}

	res := &JoinResult{Household: h, Member: member}
	res.Principal = s.refresh(ctx, sess, p)
	logger.Info("joined household", "household_id", code.HouseholdID, "code_id", code.ID)
	return res, nil
}

// refresh reloads the principal after the flow changed membership or
// profile. The data is already committed, so a failure only costs a stale
// view and is logged.
func (s *Service) refresh(ctx context.Context, sess auth.Session, prev *auth.Principal) *auth.Principal {
	p, err := sess.Refresh(ctx)
	if err != nil {
		s.logger.Warn("refresh session", "user_id", prev.User.ID, "error", err)
		return prev
	}
	return p
}
