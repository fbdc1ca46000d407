package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/store"
	"github.com/dukerupert/choreboard/internal/websocket"
)

const (
	msgHouseholdNotFound = "世帯が見つかりません"
	msgMemberNotFound    = "メンバーが見つかりません"
	msgInviteFailed      = "招待コードの発行に失敗しました"
	msgInvalidHousehold  = "世帯名は1〜50文字、締め日は1〜31で入力してください"
	msgInvalidRole       = "権限が正しくありません"
	msgCannotChangeSelf  = "自分自身は変更できません"
)

// InviteIssuer issues and looks up a household's invite codes.
type InviteIssuer interface {
	Create(ctx context.Context, householdID, createdBy int64, validity time.Duration) (*model.InviteCode, error)
	Active(ctx context.Context, householdID int64) (*model.InviteCode, error)
}

type HouseholdHandler struct {
	households *store.HouseholdStore
	invites    InviteIssuer
	hub        *websocket.Hub
	logger     *slog.Logger
}

func NewHouseholdHandler(hs *store.HouseholdStore, inv InviteIssuer, hub *websocket.Hub, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{households: hs, invites: inv, hub: hub, logger: logger}
}

func (h *HouseholdHandler) broadcast(householdID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(householdID, msg)
	}
}

func (h *HouseholdHandler) Get(w http.ResponseWriter, r *http.Request) {
	hh, err := h.households.GetByID(r.Context(), auth.HouseholdID(r.Context()))
	if err != nil {
		h.logger.Error("get household", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if hh == nil {
		writeError(w, http.StatusNotFound, msgHouseholdNotFound)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

type householdRequest struct {
	Name          string `json:"name"`
	SettlementDay int    `json:"settlement_day"`
}

func (h *HouseholdHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req householdRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || utf8.RuneCountInString(req.Name) > 50 || req.SettlementDay < 1 || req.SettlementDay > 31 {
		writeError(w, http.StatusBadRequest, msgInvalidHousehold)
		return
	}

	hid := auth.HouseholdID(r.Context())
	hh, err := h.households.Update(r.Context(), hid, req.Name, req.SettlementDay)
	if err != nil {
		h.logger.Error("update household", "household_id", hid, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	h.broadcast(hid, websocket.NewMessage("household", "updated", hid, nil))
	writeJSON(w, http.StatusOK, hh)
}

func (h *HouseholdHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.households.ListMembers(r.Context(), auth.HouseholdID(r.Context()))
	if err != nil {
		h.logger.Error("list members", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if members == nil {
		members = []model.MemberProfile{}
	}
	writeJSON(w, http.StatusOK, members)
}

// memberTarget parses the {id} user id and rejects the caller's own id.
func (h *HouseholdHandler) memberTarget(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidID)
		return 0, false
	}
	if userID == auth.UserID(r.Context()) {
		writeError(w, http.StatusBadRequest, msgCannotChangeSelf)
		return 0, false
	}
	m, err := h.households.GetMember(r.Context(), auth.HouseholdID(r.Context()), userID)
	if err != nil {
		h.logger.Error("get member", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return 0, false
	}
	if m == nil {
		writeError(w, http.StatusNotFound, msgMemberNotFound)
		return 0, false
	}
	return userID, true
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *HouseholdHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.memberTarget(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if req.Role != model.RoleAdmin && req.Role != model.RoleMember {
		writeError(w, http.StatusBadRequest, msgInvalidRole)
		return
	}

	hid := auth.HouseholdID(r.Context())
	m, err := h.households.UpdateMemberRole(r.Context(), hid, userID, req.Role)
	if err != nil {
		h.logger.Error("update member role", "household_id", hid, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	h.broadcast(hid, websocket.NewMessage(websocket.EntityMember, "updated", userID, map[string]any{"role": req.Role}))
	writeJSON(w, http.StatusOK, m)
}

func (h *HouseholdHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.memberTarget(w, r)
	if !ok {
		return
	}

	hid := auth.HouseholdID(r.Context())
	if err := h.households.RemoveMember(r.Context(), hid, userID); err != nil {
		h.logger.Error("remove member", "household_id", hid, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	h.broadcast(hid, websocket.NewMessage(websocket.EntityMember, "removed", userID, nil))
	w.WriteHeader(http.StatusNoContent)
}

// ActiveInvite returns the household's newest redeemable code, or null.
func (h *HouseholdHandler) ActiveInvite(w http.ResponseWriter, r *http.Request) {
	code, err := h.invites.Active(r.Context(), auth.HouseholdID(r.Context()))
	if err != nil {
		h.logger.Error("active invite code", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invite_code": code})
}

func (h *HouseholdHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	code, err := h.invites.Create(r.Context(), ac.HouseholdID, ac.UserID, 0)
	if err != nil {
		h.logger.Error("create invite code", "household_id", ac.HouseholdID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInviteFailed)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invite_code": code})
}
