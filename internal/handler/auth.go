package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/choreboard/internal/account"
	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/middleware"
	"github.com/dukerupert/choreboard/internal/model"
)

const (
	msgInvalidCredentials = "メールアドレスまたはパスワードが正しくありません"
	msgSignInFailed       = "ログインに失敗しました"
	msgInvalidToken       = "確認リンクが無効か、有効期限が切れています"
	msgSessionExpired     = "セッションの有効期限が切れました。再度ログインしてください"
)

type AuthHandler struct {
	svc      *auth.Service
	upgrader *account.Upgrader
	logger   *slog.Logger
}

func NewAuthHandler(svc *auth.Service, upgrader *account.Upgrader, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, upgrader: upgrader, logger: logger}
}

// sessionResponse is returned by every endpoint that issues or reloads a session.
type sessionResponse struct {
	Token      string                 `json:"token"`
	User       *model.User            `json:"user"`
	Identity   *model.Identity        `json:"identity"`
	Membership *model.HouseholdMember `json:"membership"`
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, r *http.Request, status int, p *auth.Principal) {
	setSessionCookie(w, r, p.Session.Token, p.Session.ExpiresAt)
	writeJSON(w, status, sessionResponse{
		Token:      p.Session.Token,
		User:       p.User,
		Identity:   p.Identity,
		Membership: p.Membership,
	})
}

func (h *AuthHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.SignInAnonymously(r.Context())
	if err != nil {
		h.logger.Error("anonymous sign-in", "error", err)
		writeError(w, http.StatusInternalServerError, msgSignInFailed)
		return
	}
	h.writeSession(w, r, http.StatusCreated, p)
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := account.ValidateCredentials(req.Email, req.Password, req.DisplayName); err != nil {
		writeError(w, http.StatusBadRequest, account.Message(err))
		return
	}

	p, err := h.svc.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if errors.Is(err, auth.ErrEmailTaken) {
		writeError(w, http.StatusConflict, account.Message(err))
		return
	}
	if err != nil {
		h.logger.Error("sign up", "error", err)
		writeError(w, http.StatusInternalServerError, account.Message(err))
		return
	}
	h.writeSession(w, r, http.StatusCreated, p)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	p, err := h.svc.SignIn(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}
	if err != nil {
		h.logger.Error("sign in", "error", err)
		writeError(w, http.StatusInternalServerError, msgSignInFailed)
		return
	}
	h.writeSession(w, r, http.StatusOK, p)
}

func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, msgInvalidToken)
		return
	}

	ident, err := h.svc.ConfirmEmail(r.Context(), token)
	if errors.Is(err, auth.ErrInvalidToken) {
		writeError(w, http.StatusBadRequest, msgInvalidToken)
		return
	}
	if err != nil {
		h.logger.Error("confirm email", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *AuthHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	sess := auth.NewRequestSession(h.svc, middleware.Token(r))
	p, err := h.upgrader.Upgrade(r.Context(), sess, req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.writeAccountError(w, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, p)
}

type profileRequest struct {
	DisplayName string `json:"display_name"`
}

// Profile saves the display name, completing an upgrade whose last step failed.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	sess := auth.NewRequestSession(h.svc, middleware.Token(r))
	p, err := h.upgrader.FinishProfile(r.Context(), sess, req.DisplayName)
	if err != nil {
		h.writeAccountError(w, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, p)
}

func (h *AuthHandler) writeAccountError(w http.ResponseWriter, err error) {
	var ve *account.ValidationError
	var pe *account.PartialUpgradeError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, account.ErrNotAnonymous):
		status = http.StatusConflict
	case errors.Is(err, account.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.As(err, &pe):
		h.logger.Warn("partial upgrade", "user_id", pe.UserID, "error", pe.Err)
	default:
		h.logger.Error("upgrade account", "error", err)
	}
	writeError(w, status, account.Message(err))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Refresh(r.Context(), middleware.Token(r))
	if errors.Is(err, auth.ErrInvalidSession) || errors.Is(err, auth.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, msgSessionExpired)
		return
	}
	if err != nil {
		h.logger.Error("refresh session", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	h.writeSession(w, r, http.StatusOK, p)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.SignOut(r.Context(), middleware.Token(r)); err != nil {
		h.logger.Error("sign out", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Resolve(r.Context(), middleware.Token(r))
	if errors.Is(err, auth.ErrInvalidSession) || errors.Is(err, auth.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, msgSessionExpired)
		return
	}
	if err != nil {
		h.logger.Error("resolve session", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:      p.Session.Token,
		User:       p.User,
		Identity:   p.Identity,
		Membership: p.Membership,
	})
}
