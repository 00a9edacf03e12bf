package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type countingReloader struct {
	calls int
	err   error
}

func (r *countingReloader) Reload(context.Context) error {
	r.calls++
	return r.err
}

func TestReload(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := &countingReloader{}
	if !reload(context.Background(), ok, "r1", logger) || ok.calls != 1 {
		t.Fatalf("expected successful reload, calls=%d", ok.calls)
	}

	failing := &countingReloader{err: errors.New("db down")}
	if reload(context.Background(), failing, "r1", logger) {
		t.Fatal("expected reload failure to be reported")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	d := reconnectBackoff
	var got []time.Duration
	for i := 0; i < 4; i++ {
		d = nextBackoff(d)
		got = append(got, d)
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff step %d = %s, want %s", i, got[i], want[i])
		}
	}
}
