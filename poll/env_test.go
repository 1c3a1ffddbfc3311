package poll_test

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/zephyrtronium/pollbot/chat"
	"github.com/zephyrtronium/pollbot/chat/chattest"
	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/store"
)

// testEnv creates an environment over a fake platform and an in-memory
// store. The clock reads 1500ms past the epoch.
func testEnv(t *testing.T) (*poll.Env, *chattest.Fake) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	p := chattest.New()
	hub := chat.NewHub()
	hub.SetSelf(chattest.Self)
	env := &poll.Env{
		Platform:  p,
		Hub:       hub,
		Polls:     store.New[poll.Poll](db, "polls"),
		Responses: store.New[poll.Response](db, "responses"),
		Now:       func() time.Time { return time.UnixMilli(1500) },
	}
	return env, p
}

func savePoll(t *testing.T, env *poll.Env, p *poll.Poll) {
	t.Helper()
	if err := env.Polls.Set(context.Background(), p.ID, p); err != nil {
		t.Fatal(err)
	}
}
