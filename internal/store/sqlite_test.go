package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quirelabs/quire/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "quire.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return repo
}

func TestBindingRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetBinding(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetBinding: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unbound doc, got %+v", got)
	}

	boundAt := time.Now().Truncate(time.Second)
	if err := repo.PutBinding(ctx, &domain.ContainerBinding{
		DocID:       "doc-1",
		ContainerID: 42,
		BoundAt:     boundAt,
	}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}

	got, err = repo.GetBinding(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetBinding after put: %v", err)
	}
	if got == nil {
		t.Fatal("binding not found after put")
	}
	if got.ContainerID != 42 {
		t.Errorf("container_id = %d, want 42", got.ContainerID)
	}
	if !got.BoundAt.Equal(boundAt) {
		t.Errorf("bound_at = %v, want %v", got.BoundAt, boundAt)
	}
}

func TestPutBindingReplaces(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.PutBinding(ctx, &domain.ContainerBinding{DocID: "doc-1", ContainerID: 1, BoundAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}
	if err := repo.PutBinding(ctx, &domain.ContainerBinding{DocID: "doc-1", ContainerID: 2, BoundAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding replace: %v", err)
	}

	got, err := repo.GetBinding(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetBinding: %v", err)
	}
	if got.ContainerID != 2 {
		t.Errorf("container_id = %d, want 2 after replace", got.ContainerID)
	}
}

func TestDeleteBinding(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.PutBinding(ctx, &domain.ContainerBinding{DocID: "doc-1", ContainerID: 7, BoundAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}
	if err := repo.DeleteBinding(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteBinding: %v", err)
	}

	got, err := repo.GetBinding(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetBinding: %v", err)
	}
	if got != nil {
		t.Errorf("binding survived delete: %+v", got)
	}

	// Deleting a missing binding is not an error.
	if err := repo.DeleteBinding(ctx, "doc-1"); err != nil {
		t.Errorf("DeleteBinding on missing row: %v", err)
	}
}

func TestMeetingArchiveRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-10 * time.Minute).Truncate(time.Second)
	ended := time.Now().Truncate(time.Second)
	artifact := &domain.FinalArtifact{
		MeetingID:  "m-1",
		DocID:      "doc-1",
		AudioRef:   "audio/m-1.pcm",
		Transcript: "hello\nworld",
		Summary:    "- hello\n- world",
		Notes:      "remember the thing",
		StartedAt:  started,
		EndedAt:    ended,
	}
	if err := repo.SaveMeeting(ctx, artifact); err != nil {
		t.Fatalf("SaveMeeting: %v", err)
	}

	got, err := repo.GetMeeting(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if got == nil {
		t.Fatal("meeting not found after save")
	}
	if got.Transcript != artifact.Transcript {
		t.Errorf("transcript = %q, want %q", got.Transcript, artifact.Transcript)
	}
	if got.Summary != artifact.Summary {
		t.Errorf("summary = %q, want %q", got.Summary, artifact.Summary)
	}
	if got.AudioRef != artifact.AudioRef {
		t.Errorf("audio_ref = %q, want %q", got.AudioRef, artifact.AudioRef)
	}
	if !got.StartedAt.Equal(started) || !got.EndedAt.Equal(ended) {
		t.Errorf("timestamps = %v/%v, want %v/%v", got.StartedAt, got.EndedAt, started, ended)
	}
}

func TestGetMeetingUnknown(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.GetMeeting(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown meeting, got %+v", got)
	}
}

func TestSaveMeetingReplaces(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := &domain.FinalArtifact{
		MeetingID: "m-1", DocID: "doc-1",
		Transcript: "draft", Summary: "draft", Notes: "",
		StartedAt: time.Now(), EndedAt: time.Now(),
	}
	if err := repo.SaveMeeting(ctx, base); err != nil {
		t.Fatalf("SaveMeeting: %v", err)
	}

	base.Transcript = "final transcript"
	base.Summary = "final summary"
	if err := repo.SaveMeeting(ctx, base); err != nil {
		t.Fatalf("SaveMeeting replace: %v", err)
	}

	got, err := repo.GetMeeting(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if got.Transcript != "final transcript" || got.Summary != "final summary" {
		t.Errorf("replace did not stick: %+v", got)
	}

	all, err := repo.ListMeetings(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListMeetings: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("len(meetings) = %d, want 1 after replace", len(all))
	}
}

func TestListMeetingsFilterAndOrder(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	meetings := []*domain.FinalArtifact{
		{MeetingID: "m-old", DocID: "doc-1", Transcript: "t", Summary: "s", StartedAt: now.Add(-3 * time.Hour), EndedAt: now.Add(-3 * time.Hour)},
		{MeetingID: "m-new", DocID: "doc-1", Transcript: "t", Summary: "s", StartedAt: now.Add(-1 * time.Hour), EndedAt: now.Add(-1 * time.Hour)},
		{MeetingID: "m-other", DocID: "doc-2", Transcript: "t", Summary: "s", StartedAt: now.Add(-2 * time.Hour), EndedAt: now.Add(-2 * time.Hour)},
	}
	for _, m := range meetings {
		if err := repo.SaveMeeting(ctx, m); err != nil {
			t.Fatalf("SaveMeeting %s: %v", m.MeetingID, err)
		}
	}

	byDoc, err := repo.ListMeetings(ctx, "doc-1", 0)
	if err != nil {
		t.Fatalf("ListMeetings doc-1: %v", err)
	}
	if len(byDoc) != 2 {
		t.Fatalf("len(doc-1 meetings) = %d, want 2", len(byDoc))
	}
	if byDoc[0].MeetingID != "m-new" || byDoc[1].MeetingID != "m-old" {
		t.Errorf("order = %s, %s, want m-new, m-old", byDoc[0].MeetingID, byDoc[1].MeetingID)
	}

	limited, err := repo.ListMeetings(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListMeetings limit: %v", err)
	}
	if len(limited) != 1 || limited[0].MeetingID != "m-new" {
		t.Errorf("limited list = %+v, want just m-new", limited)
	}
}

func TestPurgeMeetings(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	old := &domain.FinalArtifact{MeetingID: "m-old", DocID: "d", Transcript: "t", Summary: "s", StartedAt: now.Add(-48 * time.Hour), EndedAt: now.Add(-48 * time.Hour)}
	fresh := &domain.FinalArtifact{MeetingID: "m-fresh", DocID: "d", Transcript: "t", Summary: "s", StartedAt: now, EndedAt: now}
	for _, m := range []*domain.FinalArtifact{old, fresh} {
		if err := repo.SaveMeeting(ctx, m); err != nil {
			t.Fatalf("SaveMeeting: %v", err)
		}
	}

	purged, err := repo.PurgeMeetings(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeMeetings: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if got, _ := repo.GetMeeting(ctx, "m-old"); got != nil {
		t.Error("old meeting survived purge")
	}
	if got, _ := repo.GetMeeting(ctx, "m-fresh"); got == nil {
		t.Error("fresh meeting was purged")
	}
}
