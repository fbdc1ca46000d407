package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/dukerupert/choreboard/internal/model"
)

type ChoreStore struct {
	db *sql.DB
}

func NewChoreStore(db *sql.DB) *ChoreStore {
	return &ChoreStore{db: db}
}

// --- Chore methods ---

func scanChore(s scanner) (*model.Chore, error) {
	var c model.Chore
	err := s.Scan(&c.ID, &c.HouseholdID, &c.Name, &c.Points, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const choreCols = `id, household_id, name, points, sort_order, created_at, updated_at`

func (s *ChoreStore) Create(ctx context.Context, householdID int64, name string, points int) (*model.Chore, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO chores (household_id, name, points, sort_order)
		 VALUES (?, ?, ?, (SELECT COALESCE(MAX(sort_order), 0) + 1 FROM chores WHERE household_id = ?))`,
		householdID, name, points, householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chore: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// CreateMany inserts the given chores for a household in a single transaction.
// Only Name, Points and SortOrder of each template are used.
func (s *ChoreStore) CreateMany(ctx context.Context, householdID int64, chores []model.Chore) ([]model.Chore, error) {
	if len(chores) == 0 {
		return nil, nil
	}

	insert := sq.Insert("chores").Columns("household_id", "name", "points", "sort_order")
	for _, c := range chores {
		insert = insert.Values(householdID, c.Name, c.Points, c.SortOrder)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chore insert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert chores: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+choreCols+` FROM chores WHERE household_id = ? ORDER BY sort_order ASC, id ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chores: %w", err)
	}
	created, err := collectChores(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func (s *ChoreStore) GetByID(ctx context.Context, id int64) (*model.Chore, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+choreCols+` FROM chores WHERE id = ?`, id)
	c, err := scanChore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chore: %w", err)
	}
	return c, nil
}

func (s *ChoreStore) List(ctx context.Context, householdID int64) ([]model.Chore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+choreCols+` FROM chores WHERE household_id = ? ORDER BY sort_order ASC, name ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chores: %w", err)
	}
	return collectChores(rows)
}

func collectChores(rows *sql.Rows) ([]model.Chore, error) {
	defer rows.Close()

	var chores []model.Chore
	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chore: %w", err)
		}
		chores = append(chores, *c)
	}
	return chores, rows.Err()
}

func (s *ChoreStore) Count(ctx context.Context, householdID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chores WHERE household_id = ?`, householdID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chores: %w", err)
	}
	return n, nil
}

func (s *ChoreStore) Update(ctx context.Context, id int64, name string, points int) (*model.Chore, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chores SET name = ?, points = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, points, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update chore: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ChoreStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chores WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chore: %w", err)
	}
	return nil
}

// --- Log methods ---

func scanChoreLog(s scanner) (*model.ChoreLog, error) {
	var l model.ChoreLog
	err := s.Scan(&l.ID, &l.HouseholdID, &l.ChoreID, &l.UserID, &l.Points, &l.Note, &l.LoggedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

var choreLogCols = []string{"id", "household_id", "chore_id", "user_id", "points", "note", "logged_at"}

// LogCompletion records that userID did chore at the given time, snapshotting
// the chore's current points.
func (s *ChoreStore) LogCompletion(ctx context.Context, chore *model.Chore, userID int64, note string, at time.Time) (*model.ChoreLog, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO chore_logs (household_id, chore_id, user_id, points, note, logged_at) VALUES (?, ?, ?, ?, ?, ?)`,
		chore.HouseholdID, chore.ID, userID, chore.Points, note, at.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert chore log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	query, args, err := sq.Select(choreLogCols...).From("chore_logs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build log query: %w", err)
	}
	return scanChoreLog(s.db.QueryRowContext(ctx, query, args...))
}

func (s *ChoreStore) DeleteLog(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chore_logs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chore log: %w", err)
	}
	return nil
}

// LogFilter narrows ListLogs. Zero values mean "no constraint"; From is
// inclusive and To exclusive.
type LogFilter struct {
	HouseholdID int64
	LogID       int64
	UserID      int64
	ChoreID     int64
	From        time.Time
	To          time.Time
	Limit       uint64
}

func (s *ChoreStore) ListLogs(ctx context.Context, f LogFilter) ([]model.ChoreLog, error) {
	q := sq.Select(choreLogCols...).
		From("chore_logs").
		Where(sq.Eq{"household_id": f.HouseholdID}).
		OrderBy("logged_at DESC", "id DESC")
	if f.LogID != 0 {
		q = q.Where(sq.Eq{"id": f.LogID})
	}
	if f.UserID != 0 {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.ChoreID != 0 {
		q = q.Where(sq.Eq{"chore_id": f.ChoreID})
	}
	if !f.From.IsZero() {
		q = q.Where(sq.GtOrEq{"logged_at": f.From.UTC()})
	}
	if !f.To.IsZero() {
		q = q.Where(sq.Lt{"logged_at": f.To.UTC()})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build log query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chore logs: %w", err)
	}
	defer rows.Close()

	var logs []model.ChoreLog
	for rows.Next() {
		l, err := scanChoreLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chore log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

// Rankings sums logged points per member over [from, to). Members without
// logs in the window are included with zero points.
func (s *ChoreStore) Rankings(ctx context.Context, householdID int64, from, to time.Time) ([]model.Ranking, error) {
	query, args, err := sq.Select(
		"hm.user_id",
		"u.display_name",
		"COALESCE(SUM(cl.points), 0) AS total_points",
		"COUNT(cl.id) AS log_count",
	).
		From("household_members hm").
		Join("users u ON u.id = hm.user_id").
		LeftJoin(
			"chore_logs cl ON cl.user_id = hm.user_id AND cl.household_id = hm.household_id AND cl.logged_at >= ? AND cl.logged_at < ?",
			from.UTC(), to.UTC(),
		).
		Where(sq.Eq{"hm.household_id": householdID}).
		GroupBy("hm.user_id", "u.display_name").
		OrderBy("total_points DESC", "hm.user_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build rankings query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rankings: %w", err)
	}
	defer rows.Close()

	var rankings []model.Ranking
	for rows.Next() {
		var r model.Ranking
		if err := rows.Scan(&r.UserID, &r.DisplayName, &r.Points, &r.LogCount); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		rankings = append(rankings, r)
	}
	return rankings, rows.Err()
}
