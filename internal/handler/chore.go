package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/chore"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/store"
	"github.com/dukerupert/choreboard/internal/websocket"
)

const (
	msgChoreNotFound = "家事が見つかりません"
	msgLogNotFound   = "記録が見つかりません"
	msgInvalidChore  = "家事名は1〜50文字、ポイントは1〜100で入力してください"
	msgInvalidFilter = "検索条件が正しくありません"
	msgLogForbidden  = "他のメンバーの記録は削除できません"

	recentLogLimit = 10
	maxLogLimit    = 200
)

type ChoreHandler struct {
	chores     *store.ChoreStore
	households *store.HouseholdStore
	hub        *websocket.Hub
	logger     *slog.Logger
	clock      func() time.Time
}

func NewChoreHandler(cs *store.ChoreStore, hs *store.HouseholdStore, hub *websocket.Hub, logger *slog.Logger) *ChoreHandler {
	return &ChoreHandler{chores: cs, households: hs, hub: hub, logger: logger, clock: time.Now}
}

func (h *ChoreHandler) broadcast(householdID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(householdID, msg)
	}
}

// householdChore loads the {id} chore and hides chores of other households.
func (h *ChoreHandler) householdChore(w http.ResponseWriter, r *http.Request) (*model.Chore, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidID)
		return nil, false
	}
	c, err := h.chores.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get chore", "chore_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return nil, false
	}
	if c == nil || c.HouseholdID != auth.HouseholdID(r.Context()) {
		writeError(w, http.StatusNotFound, msgChoreNotFound)
		return nil, false
	}
	return c, true
}

type choreRequest struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

func (req *choreRequest) valid() bool {
	req.Name = strings.TrimSpace(req.Name)
	n := utf8.RuneCountInString(req.Name)
	return n > 0 && n <= 50 && req.Points >= 1 && req.Points <= 100
}

func (h *ChoreHandler) List(w http.ResponseWriter, r *http.Request) {
	chores, err := h.chores.List(r.Context(), auth.HouseholdID(r.Context()))
	if err != nil {
		h.logger.Error("list chores", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if chores == nil {
		chores = []model.Chore{}
	}
	writeJSON(w, http.StatusOK, chores)
}

func (h *ChoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req choreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if !req.valid() {
		writeError(w, http.StatusBadRequest, msgInvalidChore)
		return
	}

	hid := auth.HouseholdID(r.Context())
	c, err := h.chores.Create(r.Context(), hid, req.Name, req.Points)
	if err != nil {
		h.logger.Error("create chore", "household_id", hid, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.broadcast(hid, websocket.NewMessage(websocket.EntityChore, "created", c.ID, nil))
	writeJSON(w, http.StatusCreated, c)
}

func (h *ChoreHandler) Update(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.householdChore(w, r)
	if !ok {
		return
	}
	var req choreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if !req.valid() {
		writeError(w, http.StatusBadRequest, msgInvalidChore)
		return
	}

	c, err := h.chores.Update(r.Context(), existing.ID, req.Name, req.Points)
	if err != nil {
		h.logger.Error("update chore", "chore_id", existing.ID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.broadcast(c.HouseholdID, websocket.NewMessage(websocket.EntityChore, "updated", c.ID, nil))
	writeJSON(w, http.StatusOK, c)
}

func (h *ChoreHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.householdChore(w, r)
	if !ok {
		return
	}
	if err := h.chores.Delete(r.Context(), c.ID); err != nil {
		h.logger.Error("delete chore", "chore_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.broadcast(c.HouseholdID, websocket.NewMessage(websocket.EntityChore, "deleted", c.ID, nil))
	w.WriteHeader(http.StatusNoContent)
}

type logRequest struct {
	Note string `json:"note"`
}

// Log records that the caller did the chore now.
func (h *ChoreHandler) Log(w http.ResponseWriter, r *http.Request) {
	c, ok := h.householdChore(w, r)
	if !ok {
		return
	}
	var req logRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidJSON)
			return
		}
	}

	userID := auth.UserID(r.Context())
	l, err := h.chores.LogCompletion(r.Context(), c, userID, strings.TrimSpace(req.Note), h.clock())
	if err != nil {
		h.logger.Error("log chore", "chore_id", c.ID, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.broadcast(c.HouseholdID, websocket.NewMessage(websocket.EntityChore, "logged", l.ID, map[string]any{
		"chore_id": c.ID,
		"user_id":  userID,
		"points":   l.Points,
	}))
	writeJSON(w, http.StatusCreated, l)
}

// DeleteLog removes a chore log. Members may delete their own logs; admins
// any log of the household.
func (h *ChoreHandler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	ctx := r.Context()
	logs, err := h.chores.ListLogs(ctx, store.LogFilter{HouseholdID: auth.HouseholdID(ctx), LogID: id, Limit: 1})
	if err != nil {
		h.logger.Error("get chore log", "log_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if len(logs) == 0 {
		writeError(w, http.StatusNotFound, msgLogNotFound)
		return
	}
	l := logs[0]
	if l.UserID != auth.UserID(ctx) && !auth.IsAdmin(ctx) {
		writeError(w, http.StatusForbidden, msgLogForbidden)
		return
	}

	if err := h.chores.DeleteLog(ctx, l.ID); err != nil {
		h.logger.Error("delete chore log", "log_id", l.ID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	h.broadcast(l.HouseholdID, websocket.NewMessage("chore_log", "deleted", l.ID, nil))
	w.WriteHeader(http.StatusNoContent)
}

// parseLogFilter reads user_id, chore_id, from, to (RFC 3339) and limit.
func parseLogFilter(r *http.Request, householdID int64) (store.LogFilter, bool) {
	q := r.URL.Query()
	f := store.LogFilter{HouseholdID: householdID, Limit: 50}

	ints := map[string]*int64{"user_id": &f.UserID, "chore_id": &f.ChoreID}
	for key, dst := range ints {
		if v := q.Get(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return f, false
			}
			*dst = n
		}
	}
	times := map[string]*time.Time{"from": &f.From, "to": &f.To}
	for key, dst := range times {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, false
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return f, false
		}
		f.Limit = min(n, maxLogLimit)
	}
	return f, true
}

func (h *ChoreHandler) Logs(w http.ResponseWriter, r *http.Request) {
	f, ok := parseLogFilter(r, auth.HouseholdID(r.Context()))
	if !ok {
		writeError(w, http.StatusBadRequest, msgInvalidFilter)
		return
	}
	logs, err := h.chores.ListLogs(r.Context(), f)
	if err != nil {
		h.logger.Error("list chore logs", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if logs == nil {
		logs = []model.ChoreLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// period returns the household and its current settlement period.
func (h *ChoreHandler) period(w http.ResponseWriter, r *http.Request) (*model.Household, time.Time, time.Time, bool) {
	hh, err := h.households.GetByID(r.Context(), auth.HouseholdID(r.Context()))
	if err != nil {
		h.logger.Error("get household", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return nil, time.Time{}, time.Time{}, false
	}
	if hh == nil {
		writeError(w, http.StatusNotFound, msgHouseholdNotFound)
		return nil, time.Time{}, time.Time{}, false
	}
	start, end := chore.Period(h.clock(), hh.SettlementDay)
	return hh, start, end, true
}

type rankingsResponse struct {
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Rankings    []model.Ranking `json:"rankings"`
}

// Rankings returns point totals for the current settlement period, or for
// from/to when both are given.
func (h *ChoreHandler) Rankings(w http.ResponseWriter, r *http.Request) {
	hh, start, end, ok := h.period(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("to") != "" {
		from, err1 := time.Parse(time.RFC3339, q.Get("from"))
		to, err2 := time.Parse(time.RFC3339, q.Get("to"))
		if err1 != nil || err2 != nil || !to.After(from) {
			writeError(w, http.StatusBadRequest, msgInvalidFilter)
			return
		}
		start, end = from, to
	}

	rankings, err := h.chores.Rankings(r.Context(), hh.ID, start, end)
	if err != nil {
		h.logger.Error("rankings", "household_id", hh.ID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if rankings == nil {
		rankings = []model.Ranking{}
	}
	writeJSON(w, http.StatusOK, rankingsResponse{PeriodStart: start, PeriodEnd: end, Rankings: rankings})
}

type dashboardResponse struct {
	Household   *model.Household `json:"household"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	MemberCount int              `json:"member_count"`
	Rankings    []model.Ranking  `json:"rankings"`
	RecentLogs  []model.ChoreLog `json:"recent_logs"`
}

func (h *ChoreHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	hh, start, end, ok := h.period(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	members, err := h.households.CountMembers(ctx, hh.ID)
	if err != nil {
		h.logger.Error("count members", "household_id", hh.ID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	rankings, err := h.chores.Rankings(ctx, hh.ID, start, end)
	if err != nil {
		h.logger.Error("rankings", "household_id", hh.ID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	logs, err := h.chores.ListLogs(ctx, store.LogFilter{HouseholdID: hh.ID, From: start, To: end, Limit: recentLogLimit})
	if err != nil {
		h.logger.Error("recent logs", "household_id", hh.ID, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if rankings == nil {
		rankings = []model.Ranking{}
	}
	if logs == nil {
		logs = []model.ChoreLog{}
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Household:   hh,
		PeriodStart: start,
		PeriodEnd:   end,
		MemberCount: members,
		Rankings:    rankings,
		RecentLogs:  logs,
	})
}
