package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kristofsajdak/claude-whiteboard/pkg/canvas"
)

func openTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	st, err := Open(context.Background(), db, "test-session")
	if err != nil {
		t.Fatal(err)
	}
	return st, db
}

func TestOpenInitializesEmptyDocument(t *testing.T) {
	st, _ := openTestStore(t)
	doc, err := st.Document(context.Background())
	assert.Equal(t, err, nil)
	assert.Equal(t, len(doc.Elements), 0)

	session, err := st.Session(context.Background())
	assert.Equal(t, err, nil)
	assert.Equal(t, session.Name, "test-session")
}

func TestOpenIsIdempotent(t *testing.T) {
	st, db := openTestStore(t)
	ctx := context.Background()

	doc := canvas.Document{Elements: []canvas.Element{{ID: "1", Type: "rectangle", Version: 1}}}
	assert.Equal(t, st.SetDocument(ctx, doc), nil)

	reopened, err := Open(ctx, db, "test-session")
	assert.Equal(t, err, nil)
	got, err := reopened.Document(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(got.Elements), 1)
	assert.Equal(t, got.Elements[0].ID, "1")
}

func TestDocumentRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	doc := canvas.Document{
		Elements: []canvas.Element{
			{ID: "1", Type: "rectangle", X: 0, Y: 0, Width: 100, Height: 100, Version: 2,
				Extra: map[string]interface{}{"strokeColor": "#1e1e1e"}},
			{ID: "2", Type: "ellipse", Version: 1, Deleted: true},
		},
		AppState: map[string]interface{}{"viewBackgroundColor": "#ffffff"},
	}
	assert.Equal(t, st.SetDocument(ctx, doc), nil)

	got, err := st.Document(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, got.Fingerprint(), doc.Fingerprint())
	assert.Equal(t, got.Elements[0].Extra["strokeColor"], "#1e1e1e")
	assert.Equal(t, got.Elements[1].Deleted, true)
	assert.Equal(t, got.AppState["viewBackgroundColor"], "#ffffff")
}

func TestSetDocumentBumpsLastModified(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	before, err := st.Session(ctx)
	assert.Equal(t, err, nil)

	assert.Equal(t, st.SetDocument(ctx, canvas.Document{Elements: []canvas.Element{{ID: "x", Version: 1}}}), nil)

	after, err := st.Session(ctx)
	assert.Equal(t, err, nil)
	if after.LastModified.Before(before.LastModified) {
		t.Fatalf("last modified went backwards: %v -> %v", before.LastModified, after.LastModified)
	}
}

func TestSavepointRestoreIdempotence(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	d1 := canvas.Document{Elements: []canvas.Element{{ID: "1", Type: "rectangle", Version: 1}}}
	d2 := canvas.Document{Elements: []canvas.Element{}}

	assert.Equal(t, st.SetDocument(ctx, d1), nil)
	assert.Equal(t, st.CreateSavepoint(ctx, "a"), nil)
	assert.Equal(t, st.SetDocument(ctx, d2), nil)

	assert.Equal(t, st.Restore(ctx, "a"), nil)
	got, err := st.Document(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, got.Fingerprint(), d1.Fingerprint())

	// restoring again still yields d1, the savepoint survives rollback
	assert.Equal(t, st.Restore(ctx, "a"), nil)
	got, err = st.Document(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, got.Fingerprint(), d1.Fingerprint())
}

func TestDuplicateSavepointRejected(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	first := canvas.Document{Elements: []canvas.Element{{ID: "first", Version: 1}}}
	assert.Equal(t, st.SetDocument(ctx, first), nil)
	assert.Equal(t, st.CreateSavepoint(ctx, "a"), nil)

	assert.Equal(t, st.SetDocument(ctx, canvas.Document{Elements: []canvas.Element{{ID: "second", Version: 1}}}), nil)
	err := st.CreateSavepoint(ctx, "a")
	if !errors.Is(err, ErrDuplicateSavepoint) {
		t.Fatalf("expected ErrDuplicateSavepoint, got %v", err)
	}

	// the stored capture is still the first one
	assert.Equal(t, st.Restore(ctx, "a"), nil)
	got, err := st.Document(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, got.Fingerprint(), first.Fingerprint())
}

func TestRestoreUnknownSavepoint(t *testing.T) {
	st, _ := openTestStore(t)
	err := st.Restore(context.Background(), "nope")
	if !errors.Is(err, ErrSavepointNotFound) {
		t.Fatalf("expected ErrSavepointNotFound, got %v", err)
	}
}

func TestListSavepointsOrderedByTimestamp(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	empty, err := st.ListSavepoints(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(empty), 0)

	assert.Equal(t, st.CreateSavepoint(ctx, "zulu"), nil)
	assert.Equal(t, st.CreateSavepoint(ctx, "alpha"), nil)
	assert.Equal(t, st.CreateSavepoint(ctx, "mike"), nil)

	savepoints, err := st.ListSavepoints(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(savepoints), 3)
	// creation order, not name order
	assert.Equal(t, savepoints[0].Name, "zulu")
	assert.Equal(t, savepoints[1].Name, "alpha")
	assert.Equal(t, savepoints[2].Name, "mike")
	for i := 1; i < len(savepoints); i++ {
		if savepoints[i].Timestamp.Before(savepoints[i-1].Timestamp) {
			t.Fatalf("savepoints out of order at %d", i)
		}
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	st, db := openTestStore(t)
	ctx := context.Background()

	other, err := Open(ctx, db, "other-session")
	assert.Equal(t, err, nil)

	assert.Equal(t, st.SetDocument(ctx, canvas.Document{Elements: []canvas.Element{{ID: "1", Version: 1}}}), nil)
	doc, err := other.Document(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(doc.Elements), 0)

	names, err := ListSessions(ctx, db)
	assert.Equal(t, err, nil)
	assert.Equal(t, names, []string{"other-session", "test-session"})
}
