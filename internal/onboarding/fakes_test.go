package onboarding

import (
	"context"
	"errors"
	"time"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/invite"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/store"
)

// recorder collects the calls made against the fakes, in order.
type recorder struct {
	calls []string
}

func (r *recorder) record(name string) { r.calls = append(r.calls, name) }

func (r *recorder) called(name string) bool {
	for _, c := range r.calls {
		if c == name {
			return true
		}
	}
	return false
}

type fakeSession struct {
	rec        *recorder
	principal  *auth.Principal
	signInErr  error
	refreshErr error
	signIns    int
}

func (s *fakeSession) Current(ctx context.Context) (*auth.Principal, error) {
	s.rec.record("session.Current")
	return s.principal, nil
}

func (s *fakeSession) SignInAnonymously(ctx context.Context) (*auth.Principal, error) {
	s.rec.record("session.SignInAnonymously")
	s.signIns++
	if s.signInErr != nil {
		return nil, s.signInErr
	}
	s.principal = newPrincipal(100, model.AnonymousDisplayName)
	return s.principal, nil
}

func (s *fakeSession) Refresh(ctx context.Context) (*auth.Principal, error) {
	s.rec.record("session.Refresh")
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.principal, nil
}

func newPrincipal(userID int64, name string) *auth.Principal {
	return &auth.Principal{
		User:     &model.User{ID: userID, DisplayName: name},
		Identity: &model.Identity{UserID: userID, IsAnonymous: true},
		Session:  &model.Session{ID: 1, Token: "token", UserID: userID},
	}
}

type fakeHouseholds struct {
	rec        *recorder
	households map[int64]*model.Household
	members    map[int64]*model.HouseholdMember
	nextID     int64
	createErr  error
	addErrs    []error // returned by successive AddMember calls before one succeeds
}

func newFakeHouseholds(rec *recorder) *fakeHouseholds {
	return &fakeHouseholds{
		rec:        rec,
		households: make(map[int64]*model.Household),
		members:    make(map[int64]*model.HouseholdMember),
	}
}

func (f *fakeHouseholds) Create(ctx context.Context, name string, settlementDay int) (*model.Household, error) {
	f.rec.record("households.Create")
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	h := &model.Household{ID: f.nextID, Name: name, SettlementDay: settlementDay}
	f.households[h.ID] = h
	return h, nil
}

func (f *fakeHouseholds) GetByID(ctx context.Context, id int64) (*model.Household, error) {
	f.rec.record("households.GetByID")
	return f.households[id], nil
}

func (f *fakeHouseholds) AddMember(ctx context.Context, householdID, userID int64, role string) (*model.HouseholdMember, error) {
	f.rec.record("households.AddMember")
	if len(f.addErrs) > 0 {
		err := f.addErrs[0]
		f.addErrs = f.addErrs[1:]
		return nil, err
	}
	if _, ok := f.members[userID]; ok {
		return nil, store.ErrDuplicate
	}
	m := &model.HouseholdMember{ID: int64(len(f.members) + 1), HouseholdID: householdID, UserID: userID, Role: role}
	f.members[userID] = m
	return m, nil
}

func (f *fakeHouseholds) GetMembership(ctx context.Context, userID int64) (*model.HouseholdMember, error) {
	f.rec.record("households.GetMembership")
	return f.members[userID], nil
}

type fakeUsers struct {
	rec   *recorder
	names map[int64]string
	err   error
}

func (f *fakeUsers) UpdateDisplayName(ctx context.Context, id int64, name string) (*model.User, error) {
	f.rec.record("users.UpdateDisplayName")
	if f.err != nil {
		return nil, f.err
	}
	f.names[id] = name
	return &model.User{ID: id, DisplayName: name}, nil
}

type fakeChores struct {
	rec   *recorder
	count map[int64]int
}

func (f *fakeChores) Count(ctx context.Context, householdID int64) (int, error) {
	f.rec.record("chores.Count")
	return f.count[householdID], nil
}

func (f *fakeChores) CreateMany(ctx context.Context, householdID int64, chores []model.Chore) ([]model.Chore, error) {
	f.rec.record("chores.CreateMany")
	f.count[householdID] += len(chores)
	return chores, nil
}

type fakeInvites struct {
	rec         *recorder
	codes       map[string]*model.InviteCode
	now         time.Time
	nextID      int64
	markErr     error
	createErr   error
	validateErr error
}

func (f *fakeInvites) Create(ctx context.Context, householdID, createdBy int64, validity time.Duration) (*model.InviteCode, error) {
	f.rec.record("invites.Create")
	if f.createErr != nil {
		return nil, f.createErr
	}
	if validity <= 0 {
		validity = invite.DefaultValidity
	}
	f.nextID++
	c := &model.InviteCode{
		ID: f.nextID, Code: "NEWC0" + string(rune('0'+f.nextID)), HouseholdID: householdID,
		CreatedBy: createdBy, CreatedAt: f.now, ExpiresAt: f.now.Add(validity),
	}
	f.codes[c.Code] = c
	return c, nil
}

func (f *fakeInvites) add(code string, householdID int64, expiresAt time.Time, used bool) *model.InviteCode {
	f.nextID++
	c := &model.InviteCode{ID: f.nextID, Code: code, HouseholdID: householdID, ExpiresAt: expiresAt, IsUsed: used}
	f.codes[code] = c
	return c
}

func (f *fakeInvites) Validate(ctx context.Context, code string) invite.Result {
	f.rec.record("invites.Validate")
	if f.validateErr != nil {
		return invite.Result{Reason: invite.ReasonError, Err: f.validateErr}
	}
	c, ok := f.codes[invite.Normalize(code)]
	switch {
	case !ok:
		return invite.Result{Reason: invite.ReasonNotFound}
	case c.IsUsed:
		return invite.Result{Reason: invite.ReasonUsed, Code: c}
	case !c.ExpiresAt.After(f.now):
		return invite.Result{Reason: invite.ReasonExpired, Code: c}
	default:
		return invite.Result{Valid: true, Code: c}
	}
}

func (f *fakeInvites) MarkUsed(ctx context.Context, id, userID int64) error {
	f.rec.record("invites.MarkUsed")
	if f.markErr != nil {
		return f.markErr
	}
	for _, c := range f.codes {
		if c.ID == id {
			if c.IsUsed {
				return invite.ErrAlreadyRedeemed
			}
			c.IsUsed = true
			c.UsedBy = &userID
			return nil
		}
	}
	return errors.New("no such code")
}

func (f *fakeInvites) Active(ctx context.Context, householdID int64) (*model.InviteCode, error) {
	f.rec.record("invites.Active")
	var best *model.InviteCode
	for _, c := range f.codes {
		if c.HouseholdID == householdID && !c.IsUsed && c.ExpiresAt.After(f.now) {
			if best == nil || c.ID > best.ID {
				best = c
			}
		}
	}
	return best, nil
}

type fakes struct {
	rec        *recorder
	sess       *fakeSession
	households *fakeHouseholds
	users      *fakeUsers
	chores     *fakeChores
	invites    *fakeInvites
	svc        *Service
}

func newFakes() *fakes {
	rec := &recorder{}
	f := &fakes{
		rec:        rec,
		sess:       &fakeSession{rec: rec, principal: newPrincipal(100, model.AnonymousDisplayName)},
		households: newFakeHouseholds(rec),
		users:      &fakeUsers{rec: rec, names: make(map[int64]string)},
		chores:     &fakeChores{rec: rec, count: make(map[int64]int)},
		invites: &fakeInvites{
			rec:   rec,
			codes: make(map[string]*model.InviteCode),
			now:   time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		},
	}
	f.svc = NewService(f.households, f.users, f.chores, f.invites, discardLogger())
	return f
}
