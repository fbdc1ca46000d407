package store

import (
	"context"
	"testing"
	"time"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, int64) {
	t.Helper()
	db := openTestDB(t)
	u := createTestUser(t, db, "Alice")
	return NewSessionStore(db), u.ID
}

func TestSessionCreate(t *testing.T) {
	ss, userID := setupSessionTestDB(t)

	sess, err := ss.Create(context.Background(), userID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}
	if sess.UserID != userID {
		t.Errorf("user_id = %d, want %d", sess.UserID, userID)
	}
	if !sess.ExpiresAt.After(time.Now().Add(SessionTTL - time.Hour)) {
		t.Errorf("expires_at = %v, want about %v from now", sess.ExpiresAt, SessionTTL)
	}
}

func TestSessionGetByToken(t *testing.T) {
	ss, userID := setupSessionTestDB(t)
	ctx := context.Background()

	created, _ := ss.Create(ctx, userID)

	sess, err := ss.GetByToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.ID != created.ID {
		t.Errorf("id = %d, want %d", sess.ID, created.ID)
	}
}

func TestSessionGetByTokenNotFound(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	sess, err := ss.GetByToken(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for nonexistent token")
	}
}

func TestSessionGetByTokenExpired(t *testing.T) {
	ss, userID := setupSessionTestDB(t)
	ctx := context.Background()

	created, _ := ss.Create(ctx, userID)
	ss.db.Exec(`UPDATE sessions SET expires_at = ? WHERE id = ?`, time.Now().UTC().Add(-time.Minute), created.ID)

	sess, err := ss.GetByToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for expired session")
	}
}

func TestSessionExtend(t *testing.T) {
	ss, userID := setupSessionTestDB(t)
	ctx := context.Background()

	created, _ := ss.Create(ctx, userID)
	ss.db.Exec(`UPDATE sessions SET expires_at = ? WHERE id = ?`, time.Now().UTC().Add(time.Hour), created.ID)

	sess, err := ss.Extend(ctx, created.ID)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !sess.ExpiresAt.After(time.Now().Add(SessionTTL - time.Hour)) {
		t.Errorf("expires_at = %v, want about %v from now", sess.ExpiresAt, SessionTTL)
	}
}

func TestSessionDelete(t *testing.T) {
	ss, userID := setupSessionTestDB(t)
	ctx := context.Background()

	created, _ := ss.Create(ctx, userID)

	if err := ss.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	sess, err := ss.GetByToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if sess != nil {
		t.Error("expected nil after delete")
	}
}

func TestSessionDeleteByUserID(t *testing.T) {
	ss, userID := setupSessionTestDB(t)
	ctx := context.Background()

	ss.Create(ctx, userID)
	ss.Create(ctx, userID)

	if err := ss.DeleteByUserID(ctx, userID); err != nil {
		t.Fatalf("delete by user id: %v", err)
	}

	var count int
	ss.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID).Scan(&count)
	if count != 0 {
		t.Errorf("expected 0 sessions, got %d", count)
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	ss, userID := setupSessionTestDB(t)
	ctx := context.Background()

	expired, _ := ss.Create(ctx, userID)
	ss.Create(ctx, userID)
	ss.db.Exec(`UPDATE sessions SET expires_at = ? WHERE id = ?`, time.Now().UTC().Add(-time.Hour), expired.ID)

	count, err := ss.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Errorf("deleted = %d, want 1", count)
	}
}
