package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/tutorcore/internal/storage"
)

// mockStore implements Store for testing.
type mockStore struct {
	mostRecentFn func(ctx context.Context, flashcardID, userID string) (storage.ReviewRecord, error)
	appendFn     func(ctx context.Context, r storage.ReviewRecord) error
	dueFn        func(ctx context.Context, userID string, now time.Time, limit int) ([]storage.ReviewRecord, error)
}

func (m *mockStore) MostRecentReview(ctx context.Context, flashcardID, userID string) (storage.ReviewRecord, error) {
	if m.mostRecentFn == nil {
		return storage.ReviewRecord{}, storage.ErrNotFound
	}
	return m.mostRecentFn(ctx, flashcardID, userID)
}

func (m *mockStore) AppendReview(ctx context.Context, r storage.ReviewRecord) error {
	if m.appendFn == nil {
		return nil
	}
	return m.appendFn(ctx, r)
}

func (m *mockStore) DueReviews(ctx context.Context, userID string, now time.Time, limit int) ([]storage.ReviewRecord, error) {
	if m.dueFn == nil {
		return nil, nil
	}
	return m.dueFn(ctx, userID, now, limit)
}

func newTestService(store Store) *Service {
	s := NewService(store)
	s.now = func() time.Time { return reviewNow }
	return s
}

func TestSubmit_FirstReview(t *testing.T) {
	var appended *storage.ReviewRecord
	store := &mockStore{appendFn: func(_ context.Context, r storage.ReviewRecord) error {
		appended = &r
		return nil
	}}
	svc := newTestService(store)

	rec, err := svc.Submit(context.Background(), "card-1", "user-1", 4)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if appended == nil {
		t.Fatal("record was not appended")
	}
	if rec.ID == "" || rec.ID != appended.ID {
		t.Errorf("ID = %q, appended %q", rec.ID, appended.ID)
	}
	if rec.Interval != 1 || rec.EaseFactor != 2.5 || rec.Quality != 4 {
		t.Errorf("record = %+v, want interval 1 ease 2.5 quality 4", rec)
	}
	if !rec.ReviewedAt.Equal(reviewNow) || !rec.DueDate.Equal(reviewNow.AddDate(0, 0, 1)) {
		t.Errorf("timestamps = %v / %v", rec.ReviewedAt, rec.DueDate)
	}
}

func TestSubmit_UsesPreviousState(t *testing.T) {
	store := &mockStore{mostRecentFn: func(_ context.Context, _, _ string) (storage.ReviewRecord, error) {
		return storage.ReviewRecord{Interval: 6, EaseFactor: 2.5}, nil
	}}
	svc := newTestService(store)

	rec, err := svc.Submit(context.Background(), "card-1", "user-1", 3)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Interval != 15 {
		t.Errorf("Interval = %d, want 15", rec.Interval)
	}
}

func TestSubmit_RejectsInvalidQuality(t *testing.T) {
	store := &mockStore{
		mostRecentFn: func(_ context.Context, _, _ string) (storage.ReviewRecord, error) {
			t.Error("store should not be read for invalid input")
			return storage.ReviewRecord{}, nil
		},
	}
	svc := newTestService(store)

	_, err := svc.Submit(context.Background(), "card-1", "user-1", 5)
	if !errors.Is(err, ErrInvalidQuality) {
		t.Errorf("err = %v, want ErrInvalidQuality", err)
	}
}

func TestSubmit_RejectsMissingIDs(t *testing.T) {
	svc := newTestService(&mockStore{})
	if _, err := svc.Submit(context.Background(), " ", "user-1", 3); !errors.Is(err, ErrMissingID) {
		t.Errorf("err = %v, want ErrMissingID", err)
	}
	if _, err := svc.Submit(context.Background(), "card-1", "", 3); !errors.Is(err, ErrMissingID) {
		t.Errorf("err = %v, want ErrMissingID", err)
	}
}

func TestSubmit_StoreErrors(t *testing.T) {
	boom := errors.New("disk full")

	svc := newTestService(&mockStore{mostRecentFn: func(_ context.Context, _, _ string) (storage.ReviewRecord, error) {
		return storage.ReviewRecord{}, boom
	}})
	if _, err := svc.Submit(context.Background(), "c", "u", 3); !errors.Is(err, boom) {
		t.Errorf("read failure: err = %v, want wrapped %v", err, boom)
	}

	svc = newTestService(&mockStore{appendFn: func(_ context.Context, _ storage.ReviewRecord) error { return boom }})
	if _, err := svc.Submit(context.Background(), "c", "u", 3); !errors.Is(err, boom) {
		t.Errorf("append failure: err = %v, want wrapped %v", err, boom)
	}
}

func TestDue_DefaultLimit(t *testing.T) {
	var gotLimit int
	svc := newTestService(&mockStore{dueFn: func(_ context.Context, _ string, _ time.Time, limit int) ([]storage.ReviewRecord, error) {
		gotLimit = limit
		return []storage.ReviewRecord{{ID: "r1"}}, nil
	}})

	recs, err := svc.Due(context.Background(), "user-1", reviewNow, 0)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if gotLimit != DefaultDueLimit {
		t.Errorf("limit = %d, want %d", gotLimit, DefaultDueLimit)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestService_WithSQLiteStore(t *testing.T) {
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	svc := NewService(st)
	clock := reviewNow
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	first, err := svc.Submit(ctx, "card-1", "user-1", 4)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	clock = clock.AddDate(0, 0, 1)
	second, err := svc.Submit(ctx, "card-1", "user-1", 4)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if first.Interval != 1 || second.Interval != 3 {
		t.Errorf("intervals = %d, %d; want 1, 3", first.Interval, second.Interval)
	}

	due, err := svc.Due(ctx, "user-1", clock.AddDate(0, 0, 3), 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].ID != second.ID {
		t.Errorf("due = %+v, want only the second record", due)
	}
}
