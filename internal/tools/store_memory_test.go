package tools

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreDescriptorLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d, err := s.UpsertDescriptor(ctx, Descriptor{GymID: "gym-1", Name: "book_class", Kind: KindREST, Enabled: true})
	if err != nil {
		t.Fatalf("UpsertDescriptor() error = %v", err)
	}
	if d.ID == "" || d.CreatedAt.IsZero() {
		t.Fatalf("descriptor not initialized: %+v", d)
	}

	updated, err := s.UpsertDescriptor(ctx, Descriptor{GymID: "gym-1", Name: "book_class", Kind: KindWebhook, Enabled: false})
	if err != nil {
		t.Fatalf("UpsertDescriptor() update error = %v", err)
	}
	if updated.ID != d.ID {
		t.Fatalf("update minted new id %q, want %q", updated.ID, d.ID)
	}
	if updated.Kind != KindWebhook || updated.Enabled {
		t.Fatalf("update not applied: %+v", updated)
	}

	if _, err := s.UpsertDescriptor(ctx, Descriptor{GymID: "gym-1", Name: "another", Kind: KindQuery}); err != nil {
		t.Fatalf("UpsertDescriptor() error = %v", err)
	}
	list, err := s.ListDescriptors(ctx, "gym-1")
	if err != nil {
		t.Fatalf("ListDescriptors() error = %v", err)
	}
	if len(list) != 2 || list[0].Name != "another" || list[1].Name != "book_class" {
		t.Fatalf("list = %v, want sorted by name", list)
	}

	if err := s.DeleteDescriptor(ctx, "gym-1", "another"); err != nil {
		t.Fatalf("DeleteDescriptor() error = %v", err)
	}
	if err := s.DeleteDescriptor(ctx, "gym-1", "another"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetDescriptor(ctx, "gym-1", "another"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDescriptor() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCountsExcludeRateLimited(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	records := []Execution{
		{GymID: "gym-1", MemberID: "mem-1", ToolName: "book_class", Status: StatusSuccess, CreatedAt: now},
		{GymID: "gym-1", MemberID: "mem-1", ToolName: "book_class", Status: StatusRateLimited, CreatedAt: now},
		{GymID: "gym-1", MemberID: "mem-1", ToolName: "book_class", Status: StatusError, CreatedAt: now},
		{GymID: "gym-1", MemberID: "mem-1", ToolName: "book_class", Status: StatusSuccess, CreatedAt: now.Add(-48 * time.Hour)},
		{GymID: "gym-1", MemberID: "mem-2", ToolName: "book_class", Status: StatusSuccess, CreatedAt: now},
	}
	for _, e := range records {
		if err := s.InsertExecution(ctx, e); err != nil {
			t.Fatalf("InsertExecution() error = %v", err)
		}
	}

	n, err := s.CountMemberExecutionsSince(ctx, "gym-1", "mem-1", "book_class", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountMemberExecutionsSince() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("member count = %d, want 2 (success + error, not rate_limited or stale)", n)
	}

	n, err = s.CountGymExecutionsSince(ctx, "gym-1", "book_class", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountGymExecutionsSince() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("gym count = %d, want 3", n)
	}
}
