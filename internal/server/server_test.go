package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/database"
	"github.com/dukerupert/choreboard/internal/invite"
	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/model"
)

type recordingMailer struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *recordingMailer) SendEmailConfirmation(toEmail, token, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string]string)
	}
	m.tokens[toEmail] = token
	return nil
}

func (m *recordingMailer) token(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[email]
}

type fixture struct {
	srv     *Server
	router  http.Handler
	db      *sql.DB
	mailer  *recordingMailer
	metrics *metrics.Registry
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mailer := &recordingMailer{}
	cfg.Mailer = mailer
	cfg.AuthOptions = append(cfg.AuthOptions, auth.WithHashCost(bcrypt.MinCost))
	reg := metrics.NewRegistry()
	srv := New(db, cfg, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{srv: srv, router: srv.Router(), db: db, mailer: mailer, metrics: reg}
}

// client is one browser-less API caller holding a bearer token.
type client struct {
	t     *testing.T
	f     *fixture
	token string
}

func (f *fixture) client(t *testing.T) *client {
	return &client{t: t, f: f}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.f.router.ServeHTTP(rec, req)
	return rec
}

func (c *client) expect(rec *httptest.ResponseRecorder, status int, out any) {
	c.t.Helper()
	if rec.Code != status {
		c.t.Fatalf("status = %d, want %d; body: %s", rec.Code, status, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			c.t.Fatalf("decode body %q: %v", rec.Body.String(), err)
		}
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

type createBody struct {
	Token      string            `json:"token"`
	Household  model.Household   `json:"household"`
	InviteCode *model.InviteCode `json:"invite_code"`
	Resumed    bool              `json:"resumed"`
}

type joinBody struct {
	Token         string                `json:"token"`
	Household     model.Household       `json:"household"`
	Member        model.HouseholdMember `json:"member"`
	AlreadyMember bool                  `json:"already_member"`
}

// createHousehold onboards a fresh anonymous client as admin.
func createHousehold(t *testing.T, f *fixture, userName, householdName string) (*client, createBody) {
	t.Helper()
	c := f.client(t)
	var out createBody
	c.expect(c.do("POST", "/api/onboarding/create", map[string]string{
		"user_name":      userName,
		"household_name": householdName,
	}), http.StatusCreated, &out)
	c.token = out.Token
	return c, out
}

func joinHousehold(t *testing.T, f *fixture, userName, code string) (*client, joinBody) {
	t.Helper()
	c := f.client(t)
	var out joinBody
	c.expect(c.do("POST", "/api/onboarding/join", map[string]string{
		"user_name":   userName,
		"invite_code": code,
	}), http.StatusOK, &out)
	c.token = out.Token
	return c, out
}

func TestHealth(t *testing.T) {
	f := setup(t, Config{})
	c := f.client(t)

	var body map[string]string
	c.expect(c.do("GET", "/health", nil), http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestHouseholdLifecycle(t *testing.T) {
	f := setup(t, Config{})

	alice, created := createHousehold(t, f, "Alice", "Sato family")
	if created.Token == "" {
		t.Fatal("expected session token for anonymous creator")
	}
	if created.Household.Name != "Sato family" || created.Household.SettlementDay != model.DefaultSettlementDay {
		t.Errorf("household = %+v", created.Household)
	}
	if created.InviteCode == nil || !invite.ValidFormat(created.InviteCode.Code) {
		t.Fatalf("invite code = %+v", created.InviteCode)
	}
	code := created.InviteCode.Code

	var preview map[string]any
	alice.expect(alice.do("GET", "/api/invite-codes/"+strings.ToLower(code), nil), http.StatusOK, &preview)
	if preview["valid"] != true {
		t.Errorf("preview before join = %v", preview)
	}

	bob, joined := joinHousehold(t, f, "Bob", code)
	if joined.AlreadyMember {
		t.Error("first join reported already_member")
	}
	if joined.Household.ID != created.Household.ID || joined.Member.Role != model.RoleMember {
		t.Errorf("join = %+v", joined)
	}

	// Re-joining with the consumed code is idempotent.
	var again joinBody
	bob.expect(bob.do("POST", "/api/onboarding/join", map[string]string{
		"user_name": "Bob", "invite_code": code,
	}), http.StatusOK, &again)
	if !again.AlreadyMember || again.Household.ID != created.Household.ID {
		t.Errorf("rejoin = %+v", again)
	}

	alice.expect(alice.do("GET", "/api/invite-codes/"+code, nil), http.StatusOK, &preview)
	if preview["valid"] != false || preview["reason"] != string(invite.ReasonUsed) {
		t.Errorf("preview after join = %v", preview)
	}

	var members []model.MemberProfile
	alice.expect(alice.do("GET", "/api/household/members", nil), http.StatusOK, &members)
	if len(members) != 2 || members[0].DisplayName != "Alice" || members[1].DisplayName != "Bob" {
		t.Fatalf("members = %+v", members)
	}

	var chores []model.Chore
	bob.expect(bob.do("GET", "/api/chores", nil), http.StatusOK, &chores)
	if len(chores) != 9 {
		t.Fatalf("expected 9 starter chores, got %d", len(chores))
	}

	rec := bob.do("POST", "/api/chores", map[string]any{"name": "窓拭き", "points": 3})
	if rec.Code != http.StatusForbidden {
		t.Errorf("member create chore: status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	var window model.Chore
	alice.expect(alice.do("POST", "/api/chores", map[string]any{"name": "窓拭き", "points": 3}), http.StatusCreated, &window)

	var logged model.ChoreLog
	bob.expect(bob.do("POST", fmt.Sprintf("/api/chores/%d/log", window.ID), map[string]string{"note": "ベランダも"}), http.StatusCreated, &logged)
	if logged.UserID != joined.Member.UserID || logged.Points != 3 || logged.Note != "ベランダも" {
		t.Errorf("log = %+v", logged)
	}

	var rankings struct {
		PeriodStart time.Time       `json:"period_start"`
		PeriodEnd   time.Time       `json:"period_end"`
		Rankings    []model.Ranking `json:"rankings"`
	}
	alice.expect(alice.do("GET", "/api/rankings", nil), http.StatusOK, &rankings)
	if len(rankings.Rankings) != 2 || rankings.Rankings[0].DisplayName != "Bob" || rankings.Rankings[0].Points != 3 {
		t.Errorf("rankings = %+v", rankings.Rankings)
	}
	if !rankings.PeriodEnd.After(rankings.PeriodStart) {
		t.Errorf("period = [%v, %v)", rankings.PeriodStart, rankings.PeriodEnd)
	}

	var dash struct {
		MemberCount int              `json:"member_count"`
		RecentLogs  []model.ChoreLog `json:"recent_logs"`
	}
	alice.expect(alice.do("GET", "/api/dashboard", nil), http.StatusOK, &dash)
	if dash.MemberCount != 2 || len(dash.RecentLogs) != 1 {
		t.Errorf("dashboard = %+v", dash)
	}

	var logs []model.ChoreLog
	alice.expect(alice.do("GET", fmt.Sprintf("/api/chore-logs?user_id=%d", joined.Member.UserID), nil), http.StatusOK, &logs)
	if len(logs) != 1 {
		t.Errorf("expected 1 log for bob, got %d", len(logs))
	}

	alice.expect(alice.do("DELETE", fmt.Sprintf("/api/chores/%d", window.ID), nil), http.StatusNoContent, nil)
	rec = bob.do("POST", fmt.Sprintf("/api/chores/%d/log", window.ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("log deleted chore: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestNewInviteCodeByAdmin(t *testing.T) {
	f := setup(t, Config{})
	alice, created := createHousehold(t, f, "Alice", "Home")
	bob, _ := joinHousehold(t, f, "Bob", created.InviteCode.Code)

	rec := bob.do("POST", "/api/household/invite", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("member issue invite: status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	var issued struct {
		InviteCode model.InviteCode `json:"invite_code"`
	}
	alice.expect(alice.do("POST", "/api/household/invite", nil), http.StatusCreated, &issued)
	if issued.InviteCode.Code == created.InviteCode.Code || issued.InviteCode.HouseholdID != created.Household.ID {
		t.Errorf("issued = %+v", issued.InviteCode)
	}

	var active struct {
		InviteCode *model.InviteCode `json:"invite_code"`
	}
	alice.expect(alice.do("GET", "/api/household/invite", nil), http.StatusOK, &active)
	if active.InviteCode == nil || active.InviteCode.ID != issued.InviteCode.ID {
		t.Errorf("active = %+v", active.InviteCode)
	}

	var rendered bytes.Buffer
	rendered.ReadFrom(f.client(t).do("GET", "/metrics", nil).Body)
	for _, want := range []string{
		"choreboard_invite_codes_created_total 2",
		`choreboard_invite_redemptions_total{result="ok"} 1`,
	} {
		if !strings.Contains(rendered.String(), want) {
			t.Errorf("metrics missing %q:\n%s", want, rendered.String())
		}
	}
}

func TestJoinExpiredCode(t *testing.T) {
	f := setup(t, Config{InviteValidity: time.Nanosecond})
	_, created := createHousehold(t, f, "Alice", "Home")
	time.Sleep(time.Millisecond)

	bob := f.client(t)
	rec := bob.do("POST", "/api/onboarding/join", map[string]string{
		"user_name": "Bob", "invite_code": created.InviteCode.Code,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
	if msg := errorMessage(t, rec); msg != invite.ReasonExpired.Message() {
		t.Errorf("error = %q, want %q", msg, invite.ReasonExpired.Message())
	}

	// The anonymous session survives the failure so a retry keeps the user.
	if tok := rec.Header().Get("X-Session-Token"); tok == "" {
		t.Error("expected session token header on failed join")
	}

	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM household_members WHERE household_id = ?`, created.Household.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("members = %d, want only the creator", n)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	f := setup(t, Config{})
	c := f.client(t)

	rec := c.do("POST", "/api/onboarding/join", map[string]string{"user_name": "Bob", "invite_code": "ZZZZZZ"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if msg := errorMessage(t, rec); msg != invite.ReasonNotFound.Message() {
		t.Errorf("error = %q", msg)
	}
}

func TestOnboardingValidation(t *testing.T) {
	f := setup(t, Config{})
	c := f.client(t)

	rec := c.do("POST", "/api/onboarding/create", map[string]string{"user_name": "", "household_name": "Home"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if msg := errorMessage(t, rec); msg != "お名前を入力してください" {
		t.Errorf("error = %q", msg)
	}

	req := httptest.NewRequest("POST", "/api/onboarding/create", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateTwiceResumes(t *testing.T) {
	f := setup(t, Config{})
	alice, created := createHousehold(t, f, "Alice", "Home")

	var again createBody
	alice.expect(alice.do("POST", "/api/onboarding/create", map[string]string{
		"user_name": "Alice", "household_name": "Home",
	}), http.StatusOK, &again)
	if !again.Resumed || again.Household.ID != created.Household.ID || again.InviteCode.ID != created.InviteCode.ID {
		t.Errorf("resume = %+v", again)
	}

	var households int
	f.db.QueryRow(`SELECT COUNT(*) FROM households`).Scan(&households)
	if households != 1 {
		t.Errorf("households = %d, want 1", households)
	}
}

func TestAuthRequired(t *testing.T) {
	f := setup(t, Config{})
	c := f.client(t)

	for _, path := range []string{"/api/me", "/api/household", "/api/chores", "/api/dashboard"} {
		rec := c.do("GET", path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s: status = %d, want %d", path, rec.Code, http.StatusUnauthorized)
		}
	}

	var anon struct {
		Token string `json:"token"`
	}
	c.expect(c.do("POST", "/api/auth/anonymous", nil), http.StatusCreated, &anon)
	c.token = anon.Token

	c.expect(c.do("GET", "/api/me", nil), http.StatusOK, nil)
	rec := c.do("GET", "/api/chores", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("no household: status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRouterAccessLevels(t *testing.T) {
	f := setup(t, Config{})
	admin, created := createHousehold(t, f, "Hana", "Tanaka")
	member, _ := joinHousehold(t, f, "Ken", created.InviteCode.Code)

	outsider := f.client(t)
	var anon struct {
		Token string `json:"token"`
	}
	outsider.expect(outsider.do("POST", "/api/auth/anonymous", nil), http.StatusCreated, &anon)
	outsider.token = anon.Token

	memberRoutes := [][2]string{
		{"GET", "/api/household"},
		{"GET", "/api/household/members"},
		{"GET", "/api/chores"},
		{"GET", "/api/chore-logs"},
		{"GET", "/api/rankings"},
		{"GET", "/api/dashboard"},
		{"GET", "/ws"},
	}
	adminRoutes := [][2]string{
		{"PUT", "/api/household"},
		{"GET", "/api/household/invite"},
		{"POST", "/api/household/invite"},
		{"POST", "/api/chores"},
		{"PUT", "/api/chores/1"},
		{"DELETE", "/api/chores/1"},
		{"PUT", "/api/household/members/1/role"},
		{"DELETE", "/api/household/members/1"},
	}

	anonymous := f.client(t)
	for _, rt := range append(memberRoutes, adminRoutes...) {
		if rec := anonymous.do(rt[0], rt[1], nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("no token %s %s: status = %d, want %d", rt[0], rt[1], rec.Code, http.StatusUnauthorized)
		}
		if rec := outsider.do(rt[0], rt[1], nil); rec.Code != http.StatusForbidden {
			t.Errorf("no household %s %s: status = %d, want %d", rt[0], rt[1], rec.Code, http.StatusForbidden)
		}
	}
	for _, rt := range adminRoutes {
		if rec := member.do(rt[0], rt[1], nil); rec.Code != http.StatusForbidden {
			t.Errorf("member %s %s: status = %d, want %d", rt[0], rt[1], rec.Code, http.StatusForbidden)
		}
	}

	member.expect(member.do("GET", "/api/dashboard", nil), http.StatusOK, nil)
	admin.expect(admin.do("GET", "/api/household/invite", nil), http.StatusOK, nil)
}

func TestChoreOfOtherHouseholdHidden(t *testing.T) {
	f := setup(t, Config{})
	alice, _ := createHousehold(t, f, "Alice", "Home")
	dave, _ := createHousehold(t, f, "Dave", "Elsewhere")

	var chores []model.Chore
	alice.expect(alice.do("GET", "/api/chores", nil), http.StatusOK, &chores)

	rec := dave.do("POST", fmt.Sprintf("/api/chores/%d/log", chores[0].ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec = dave.do("DELETE", fmt.Sprintf("/api/chores/%d", chores[0].ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestUpgradeKeepsHousehold(t *testing.T) {
	f := setup(t, Config{})
	_, created := createHousehold(t, f, "Alice", "Home")
	bob, joined := joinHousehold(t, f, "Bob", created.InviteCode.Code)

	var chores []model.Chore
	bob.expect(bob.do("GET", "/api/chores", nil), http.StatusOK, &chores)
	bob.expect(bob.do("POST", fmt.Sprintf("/api/chores/%d/log", chores[0].ID), nil), http.StatusCreated, nil)

	var upgraded struct {
		User       model.User             `json:"user"`
		Identity   model.Identity         `json:"identity"`
		Membership *model.HouseholdMember `json:"membership"`
	}
	bob.expect(bob.do("POST", "/api/auth/upgrade", map[string]string{
		"email": "bob@example.com", "password": "correct horse", "display_name": "Bobby",
	}), http.StatusOK, &upgraded)
	if upgraded.User.ID != joined.Member.UserID || upgraded.Identity.IsAnonymous || upgraded.User.DisplayName != "Bobby" {
		t.Errorf("upgraded = %+v", upgraded)
	}
	if upgraded.Membership == nil || upgraded.Membership.HouseholdID != created.Household.ID {
		t.Errorf("membership = %+v", upgraded.Membership)
	}

	rec := bob.do("POST", "/api/auth/upgrade", map[string]string{
		"email": "other@example.com", "password": "correct horse", "display_name": "Bobby",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("second upgrade: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	token := f.mailer.token("bob@example.com")
	if token == "" {
		t.Fatal("expected confirmation email")
	}
	var ident model.Identity
	bob.expect(bob.do("GET", "/api/auth/confirm?token="+token, nil), http.StatusOK, &ident)
	if ident.EmailConfirmedAt == nil {
		t.Error("expected confirmed email")
	}

	bob.expect(bob.do("POST", "/api/auth/signout", nil), http.StatusNoContent, nil)
	rec = bob.do("GET", "/api/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("after sign out: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	var signedIn struct {
		Token string `json:"token"`
	}
	bob.token = ""
	bob.expect(bob.do("POST", "/api/auth/signin", map[string]string{
		"email": "BOB@example.com", "password": "correct horse",
	}), http.StatusOK, &signedIn)
	bob.token = signedIn.Token

	var logs []model.ChoreLog
	bob.expect(bob.do("GET", "/api/chore-logs", nil), http.StatusOK, &logs)
	if len(logs) != 1 || logs[0].UserID != joined.Member.UserID {
		t.Errorf("logs after sign in = %+v", logs)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	f := setup(t, Config{})
	c := f.client(t)

	c.expect(c.do("POST", "/api/auth/signup", map[string]string{
		"email": "carol@example.com", "password": "long enough", "display_name": "Carol",
	}), http.StatusCreated, nil)

	rec := c.do("POST", "/api/auth/signup", map[string]string{
		"email": "carol@example.com", "password": "long enough", "display_name": "Carol",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate signup: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = c.do("POST", "/api/auth/signin", map[string]string{"email": "carol@example.com", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestPreviewRateLimited(t *testing.T) {
	f := setup(t, Config{})
	c := f.client(t)

	for i := 0; i < 30; i++ {
		c.expect(c.do("GET", "/api/invite-codes/ABC123", nil), http.StatusOK, nil)
	}
	rec := c.do("GET", "/api/invite-codes/ABC123", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestCleanerRunOnce(t *testing.T) {
	f := setup(t, Config{InviteValidity: time.Nanosecond})
	createHousehold(t, f, "Alice", "Home")
	time.Sleep(time.Millisecond)

	rep := f.srv.Cleaner().RunOnce(context.Background())
	if rep.InviteCodes != 1 {
		t.Errorf("InviteCodes = %d, want 1", rep.InviteCodes)
	}

	var n int
	f.db.QueryRow(`SELECT COUNT(*) FROM invite_codes`).Scan(&n)
	if n != 0 {
		t.Errorf("invite codes left = %d", n)
	}
}

func TestCleanerStartStop(t *testing.T) {
	f := setup(t, Config{InviteValidity: time.Nanosecond, CleanupInterval: 10 * time.Millisecond})
	createHousehold(t, f, "Alice", "Home")

	c := f.srv.Cleaner()
	c.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		var n int
		f.db.QueryRow(`SELECT COUNT(*) FROM invite_codes`).Scan(&n)
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cleaner never purged the expired code")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()
}
