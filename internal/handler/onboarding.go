package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/invite"
	"github.com/dukerupert/choreboard/internal/middleware"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/onboarding"
	"github.com/dukerupert/choreboard/internal/websocket"
)

// InviteChecker validates codes for the public preview endpoint.
type InviteChecker interface {
	Validate(ctx context.Context, code string) invite.Result
}

type OnboardingHandler struct {
	auth       *auth.Service
	onboarding *onboarding.Service
	invites    InviteChecker
	hub        *websocket.Hub
	logger     *slog.Logger
}

func NewOnboardingHandler(as *auth.Service, obs *onboarding.Service, inv InviteChecker, hub *websocket.Hub, logger *slog.Logger) *OnboardingHandler {
	return &OnboardingHandler{auth: as, onboarding: obs, invites: inv, hub: hub, logger: logger}
}

func (h *OnboardingHandler) broadcast(householdID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(householdID, msg)
	}
}

// start resolves the caller's session, signing in anonymously when there is
// none.
func (h *OnboardingHandler) start(r *http.Request) (*auth.RequestSession, *onboarding.Attempt) {
	sess := auth.NewRequestSession(h.auth, middleware.Token(r))
	attempt := h.onboarding.NewAttempt(sess)
	attempt.Init(r.Context())
	return sess, attempt
}

// keepSession hands a freshly issued anonymous session to the client even
// when the submission failed, so a retry resumes as the same user.
func (h *OnboardingHandler) keepSession(w http.ResponseWriter, r *http.Request, sess *auth.RequestSession) {
	token := sess.Token()
	if token == "" || token == middleware.Token(r) {
		return
	}
	expires := time.Time{}
	if p, err := sess.Current(r.Context()); err == nil && p != nil {
		expires = p.Session.ExpiresAt
	}
	setSessionCookie(w, r, token, expires)
	w.Header().Set("X-Session-Token", token)
}

func onboardingStatus(err error) int {
	var ve *onboarding.ValidationError
	var ie *onboarding.InviteError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ie):
		if ie.Reason == invite.ReasonError {
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	case errors.Is(err, onboarding.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, onboarding.ErrAlreadyInHousehold), errors.Is(err, onboarding.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type createResponse struct {
	Token      string            `json:"token"`
	Household  *model.Household  `json:"household"`
	InviteCode *model.InviteCode `json:"invite_code"`
	Resumed    bool              `json:"resumed"`
}

func (h *OnboardingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var form onboarding.CreateForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	sess, attempt := h.start(r)
	res, err := attempt.Create(r.Context(), form)
	h.keepSession(w, r, sess)
	if err != nil {
		status := onboardingStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("create household", "error", err)
		}
		writeError(w, status, onboarding.CreateMessage(err))
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, createResponse{
		Token:      res.Principal.Session.Token,
		Household:  res.Household,
		InviteCode: res.Invite,
		Resumed:    res.Resumed,
	})
}

type joinResponse struct {
	Token         string                 `json:"token"`
	Household     *model.Household       `json:"household"`
	Member        *model.HouseholdMember `json:"member"`
	AlreadyMember bool                   `json:"already_member"`
}

func (h *OnboardingHandler) Join(w http.ResponseWriter, r *http.Request) {
	var form onboarding.JoinForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	sess, attempt := h.start(r)
	res, err := attempt.Join(r.Context(), form)
	h.keepSession(w, r, sess)
	if err != nil {
		status := onboardingStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("join household", "error", err)
		}
		writeError(w, status, onboarding.JoinMessage(err))
		return
	}

	if !res.AlreadyMember {
		h.broadcast(res.Household.ID, websocket.NewMessage(websocket.EntityMember, "joined", res.Member.UserID, map[string]any{
			"display_name": res.Principal.User.DisplayName,
		}))
	}

	writeJSON(w, http.StatusOK, joinResponse{
		Token:         res.Principal.Session.Token,
		Household:     res.Household,
		Member:        res.Member,
		AlreadyMember: res.AlreadyMember,
	})
}

type invitePreview struct {
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason,omitempty"`
	Message   string     `json:"message,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// PreviewInvite reports whether a code could be redeemed right now without
// consuming it.
func (h *OnboardingHandler) PreviewInvite(w http.ResponseWriter, r *http.Request) {
	res := h.invites.Validate(r.Context(), r.PathValue("code"))
	if res.Reason == invite.ReasonError {
		h.logger.Error("validate invite code", "error", res.Err)
		writeError(w, http.StatusInternalServerError, res.Message())
		return
	}

	body := invitePreview{Valid: res.Valid, Reason: string(res.Reason), Message: res.Message()}
	if res.Valid {
		body.ExpiresAt = &res.Code.ExpiresAt
	}
	writeJSON(w, http.StatusOK, body)
}
