package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/pollbot/store"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitzero"`
}

func testDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCollection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testDB(t)
	c := store.New[doc](db, "polls")
	other := store.New[doc](db, "pollsx")
	if _, err := c.Get(ctx, "kessoku"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("wrong error for missing doc: %v", err)
	}
	if err := c.Set(ctx, "kessoku", &doc{Name: "band", Count: 4}); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "sick", &doc{Name: "hack"}); err != nil {
		t.Fatal(err)
	}
	if err := other.Set(ctx, "folt", &doc{Name: "venue"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "kessoku")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&doc{Name: "band", Count: 4}, got); diff != "" {
		t.Errorf("wrong doc (-want +got):\n%s", diff)
	}
	all, err := c.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []store.Doc[doc]{
		{ID: "kessoku", Value: &doc{Name: "band", Count: 4}},
		{ID: "sick", Value: &doc{Name: "hack"}},
	}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("wrong docs (-want +got):\n%s", diff)
	}
	if err := c.Delete(ctx, "kessoku"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "kessoku"); err != nil {
		t.Errorf("deleting missing doc: %v", err)
	}
	if _, err := c.Get(ctx, "kessoku"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("wrong error for deleted doc: %v", err)
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := testDB(t)
	c := store.New[doc](db, "polls")
	if err := c.Set(ctx, "old", &doc{Name: "old"}); err != nil {
		t.Fatal(err)
	}
	events := make(chan store.Event[doc], 256)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, func(ctx context.Context, ev store.Event[doc]) { events <- ev })
	}()
	// The subscription starts asynchronously, so write until it is observed.
	var first store.Event[doc]
	deadline := time.After(10 * time.Second)
wait:
	for {
		if err := c.Set(ctx, "new", &doc{Name: "new"}); err != nil {
			t.Fatal(err)
		}
		select {
		case first = <-events:
			break wait
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("no events")
		}
	}
	if first.Op != store.Added || first.ID != "new" {
		t.Errorf("wrong first event: %+v", first)
	}
	// Later writes from the retry loop may still be in flight.
	stale := func(ev store.Event[doc]) bool {
		return ev.Op == store.Modified && ev.ID == "new" && ev.Value.Name == "new"
	}
	steps := []struct {
		do   func() error
		want store.Event[doc]
	}{
		{
			do:   func() error { return c.Set(ctx, "old", &doc{Name: "older"}) },
			want: store.Event[doc]{Op: store.Modified, ID: "old", Value: &doc{Name: "older"}},
		},
		{
			do:   func() error { return c.Delete(ctx, "new") },
			want: store.Event[doc]{Op: store.Removed, ID: "new"},
		},
		{
			do:   func() error { return c.Set(ctx, "new", &doc{Name: "again", Count: 1}) },
			want: store.Event[doc]{Op: store.Added, ID: "new", Value: &doc{Name: "again", Count: 1}},
		},
	}
	for i, s := range steps {
		if err := s.do(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		var got store.Event[doc]
		for {
			select {
			case got = <-events:
			case <-time.After(10 * time.Second):
				t.Fatalf("step %d: no event", i)
			}
			if !stale(got) {
				break
			}
		}
		if diff := cmp.Diff(s.want, got); diff != "" {
			t.Errorf("step %d: wrong event (-want +got):\n%s", i, diff)
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("wrong watch result: %v", err)
	}
}

func TestScan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testDB(t)
	c := store.New[doc](db, "responses")
	for _, id := range []string{"lunch/bocchi", "lunch/kita", "lunchbox/ryou", "dinner/nijika"} {
		if err := c.Set(ctx, id, &doc{Name: id}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := c.Scan(ctx, "lunch/")
	if err != nil {
		t.Fatal(err)
	}
	want := []store.Doc[doc]{
		{ID: "lunch/bocchi", Value: &doc{Name: "lunch/bocchi"}},
		{ID: "lunch/kita", Value: &doc{Name: "lunch/kita"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong scan (-want +got):\n%s", diff)
	}
	none, err := c.Scan(ctx, "breakfast/")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("scan of missing prefix found %d docs", len(none))
	}
}
