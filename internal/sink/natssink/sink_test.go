package natssink

import (
	"context"
	"os"
	"testing"
	"time"
)

type fakeDocument struct{ value string }

func (f fakeDocument) MarshalJSON() ([]byte, error) {
	return []byte(`{"t":1,"v":"` + f.value + `"}`), nil
}

func TestNatsURLListJoinsWithComma(t *testing.T) {
	cases := []struct {
		uris []string
		want string
	}{
		{[]string{"nats://a:4222"}, "nats://a:4222"},
		{[]string{"nats://a:4222", "nats://b:4222"}, "nats://a:4222,nats://b:4222"},
		{[]string{"nats://a:4222", "nats://b:4222", "nats://c:4222"}, "nats://a:4222,nats://b:4222,nats://c:4222"},
	}
	for _, c := range cases {
		got := natsURLList(c.uris)
		if got != c.want {
			t.Errorf("natsURLList(%v) = %q, want %q", c.uris, got, c.want)
		}
	}
}

func TestNewConnectsAndInsertPublishes(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("skipping test - no NATS_URL provided")
	}

	sk, err := New([]string{url}, "ORDERBOOKD_TEST", "orderbookd.test.tick")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sk.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sk.Insert(ctx, fakeDocument{value: "hello"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}
