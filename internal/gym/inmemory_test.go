package gym

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedStore(t *testing.T) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore()
	ctx := context.Background()
	if err := s.UpsertGym(ctx, Gym{ID: "gym-1", Name: "Iron Temple", RemainingCredits: 3}); err != nil {
		t.Fatalf("UpsertGym() error = %v", err)
	}
	if err := s.UpsertMember(ctx, Member{ID: "mem-1", GymID: "gym-1", BadgeID: "badge-7", Email: "kim@example.com"}); err != nil {
		t.Fatalf("UpsertMember() error = %v", err)
	}
	return s
}

func TestMemberByBadge(t *testing.T) {
	s := seedStore(t)
	m, err := s.MemberByBadge(context.Background(), "gym-1", "badge-7")
	if err != nil {
		t.Fatalf("MemberByBadge() error = %v", err)
	}
	if m.ID != "mem-1" {
		t.Fatalf("member id = %q, want mem-1", m.ID)
	}
	if _, err := s.MemberByBadge(context.Background(), "gym-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown badge error = %v, want ErrNotFound", err)
	}
}

func TestCloseSessionDebitsCreditsAndFloorsAtZero(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	if err := s.InsertSession(ctx, SessionLog{SessionID: "sess-1", GymID: "gym-1", MemberID: "mem-1", Surface: SurfaceKiosk}); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}

	remaining, err := s.CloseSession(ctx, "sess-1", 120, 2, "completed")
	if err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}

	if _, err := s.CloseSession(ctx, "sess-1", 120, 2, "completed"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("second close error = %v, want ErrSessionEnded", err)
	}

	if err := s.InsertSession(ctx, SessionLog{SessionID: "sess-2", GymID: "gym-1", MemberID: "mem-1", Surface: SurfaceKiosk}); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
	remaining, err = s.CloseSession(ctx, "sess-2", 600, 10, "completed")
	if err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0 (floor)", remaining)
	}
}

func TestActiveSessionID(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	if _, active, err := s.ActiveSessionID(ctx, "gym-1", "mem-1"); err != nil || active {
		t.Fatalf("ActiveSessionID() = active=%v err=%v, want inactive", active, err)
	}

	if err := s.InsertSession(ctx, SessionLog{SessionID: "sess-1", GymID: "gym-1", MemberID: "mem-1", Surface: SurfaceKiosk}); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
	id, active, err := s.ActiveSessionID(ctx, "gym-1", "mem-1")
	if err != nil || !active || id != "sess-1" {
		t.Fatalf("ActiveSessionID() = %q active=%v err=%v, want sess-1", id, active, err)
	}

	if _, err := s.CloseSession(ctx, "sess-1", 30, 1, "completed"); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if _, active, _ := s.ActiveSessionID(ctx, "gym-1", "mem-1"); active {
		t.Fatalf("session still active after close")
	}
}

func TestSessionCountWindows(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := SessionLog{SessionID: "old", GymID: "gym-1", MemberID: "mem-1", Surface: SurfaceKiosk, StartedAt: now.Add(-2 * time.Hour)}
	fresh := SessionLog{SessionID: "fresh", GymID: "gym-1", MemberID: "mem-1", Surface: SurfaceKiosk, StartedAt: now.Add(-5 * time.Minute)}
	vitrine := SessionLog{SessionID: "vit", GymID: "gym-1", Surface: SurfaceVitrine, ClientIP: "203.0.113.9", StartedAt: now.Add(-10 * time.Minute)}
	for _, log := range []SessionLog{old, fresh, vitrine} {
		if err := s.InsertSession(ctx, log); err != nil {
			t.Fatalf("InsertSession(%s) error = %v", log.SessionID, err)
		}
	}

	n, err := s.CountMemberSessionsSince(ctx, "gym-1", "mem-1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountMemberSessionsSince() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("member count = %d, want 1", n)
	}

	n, err = s.CountIPSessionsSince(ctx, "gym-1", "203.0.113.9", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountIPSessionsSince() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ip count = %d, want 1", n)
	}
}

func TestMemberBlockedNow(t *testing.T) {
	now := time.Now().UTC()
	until := now.Add(time.Hour)
	cases := []struct {
		name   string
		member Member
		want   bool
	}{
		{"not blocked", Member{}, false},
		{"indefinite", Member{Blocked: true}, true},
		{"active window", Member{Blocked: true, BlockedUntil: &until}, true},
		{"expired window", Member{Blocked: true, BlockedUntil: &now}, false},
	}
	for _, tc := range cases {
		if got := tc.member.BlockedNow(now); got != tc.want {
			t.Fatalf("%s: BlockedNow() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
