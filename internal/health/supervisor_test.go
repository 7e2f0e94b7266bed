package health

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSession struct {
	last      time.Time
	resyncing bool
}

func (f fakeSession) LastUpdateAt() time.Time { return f.last }

func (f fakeSession) IsResyncing() bool { return f.resyncing }

func TestStalenessTriggersReset(t *testing.T) {
	t.Parallel()
	now := time.Now()
	var resetID string
	sup := New(10*time.Second, zerolog.Nop(), func(id string) { resetID = id })

	sup.Check(now, map[string]Session{
		"binance/BTCUSDT": fakeSession{last: now.Add(-11 * time.Second)},
	})

	if resetID != "binance/BTCUSDT" {
		t.Fatalf("expected reset for stale session, got %q", resetID)
	}
}

func TestFreshSessionNotReset(t *testing.T) {
	t.Parallel()
	now := time.Now()
	called := false
	sup := New(10*time.Second, zerolog.Nop(), func(id string) { called = true })

	sup.Check(now, map[string]Session{
		"binance/BTCUSDT": fakeSession{last: now.Add(-1 * time.Second)},
	})

	if called {
		t.Fatal("fresh session should not trigger a reset")
	}
}

func TestInitializingSessionSkipped(t *testing.T) {
	t.Parallel()
	called := false
	sup := New(10*time.Second, zerolog.Nop(), func(id string) { called = true })

	sup.Check(time.Now(), map[string]Session{
		"binance/ETHUSDT": fakeSession{}, // zero-value last_update_at
	})

	if called {
		t.Fatal("a session with no updates yet must not be treated as stale")
	}
}

func TestResyncingSessionNotCascaded(t *testing.T) {
	t.Parallel()
	now := time.Now()
	called := false
	sup := New(10*time.Second, zerolog.Nop(), func(id string) { called = true })

	// Resyncing freezes last_update_at at its pre-resync value, so this
	// session looks arbitrarily stale — but a reset is already in flight,
	// so Check must not trigger another one on top of it.
	sup.Check(now, map[string]Session{
		"binance/BTCUSDT": fakeSession{last: now.Add(-time.Hour), resyncing: true},
	})

	if called {
		t.Fatal("a resyncing session must not be reset again")
	}
}

func TestStaleNonResyncingSessionStillReset(t *testing.T) {
	t.Parallel()
	now := time.Now()
	var resetID string
	sup := New(10*time.Second, zerolog.Nop(), func(id string) { resetID = id })

	sup.Check(now, map[string]Session{
		"binance/BTCUSDT": fakeSession{last: now.Add(-11 * time.Second), resyncing: false},
	})

	if resetID != "binance/BTCUSDT" {
		t.Fatalf("expected reset for stale non-resyncing session, got %q", resetID)
	}
}
