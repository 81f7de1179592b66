package jobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/agentcheck/dbopen"
	"github.com/hazyhaar/agentcheck/jobs"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newQueue(t *testing.T, opts jobs.Options) (*jobs.Queue, *clock) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(jobs.Schema))
	c := &clock{t: time.Date(2026, 5, 13, 9, 0, 0, 0, time.UTC)}
	opts.Now = c.now
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return jobs.New(db, opts), c
}

func TestPublishAndClaim(t *testing.T) {
	q, _ := newQueue(t, jobs.Options{})
	ctx := context.Background()

	id, err := q.Publish(ctx, jobs.CardJob{CardID: "abc123", CardName: "王小明"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty job id")
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.ID != id || job.Card.CardID != "abc123" || job.Card.CardName != "王小明" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}
	if job.Card.Received.IsZero() {
		t.Fatal("received time not stamped")
	}

	again, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatal("claimed job should be invisible")
	}
}

func TestPublishRequiresCardID(t *testing.T) {
	q, _ := newQueue(t, jobs.Options{})
	if _, err := q.Publish(context.Background(), jobs.CardJob{}); err == nil {
		t.Fatal("expected error for empty card id")
	}
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	q, c := newQueue(t, jobs.Options{Visibility: time.Minute})
	ctx := context.Background()

	if _, err := q.Publish(ctx, jobs.CardJob{CardID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if job, _ := q.Claim(ctx); job == nil {
		t.Fatal("expected first claim")
	}

	c.t = c.t.Add(2 * time.Minute)
	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("job should reappear after visibility timeout")
	}
	if job.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", job.Attempts)
	}
}

func TestAckAndNack(t *testing.T) {
	q, c := newQueue(t, jobs.Options{RetryBackoff: time.Minute})
	ctx := context.Background()

	q.Publish(ctx, jobs.CardJob{CardID: "c1"})
	job, _ := q.Claim(ctx)
	if err := q.Nack(ctx, job.ID, errors.New("trello down")); err != nil {
		t.Fatal(err)
	}
	if again, _ := q.Claim(ctx); again != nil {
		t.Fatal("nacked job must wait for its backoff")
	}

	c.t = c.t.Add(time.Minute)
	job, _ = q.Claim(ctx)
	if job == nil {
		t.Fatal("nacked job should be visible after the backoff")
	}
	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	n, err := q.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("len = %d after ack, want 0", n)
	}
}

func TestNackBackoffDoublesUpToVisibility(t *testing.T) {
	q, c := newQueue(t, jobs.Options{RetryBackoff: time.Minute, Visibility: 3 * time.Minute, MaxAttempts: -1})
	ctx := context.Background()
	q.Publish(ctx, jobs.CardJob{CardID: "c1"})

	// Attempt n waits min(1m << (n-1), 3m).
	for _, wait := range []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute, 3 * time.Minute} {
		job, err := q.Claim(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if job == nil {
			t.Fatalf("no job before waiting %v", wait)
		}
		if err := q.Nack(ctx, job.ID, errors.New("boom")); err != nil {
			t.Fatal(err)
		}
		c.t = c.t.Add(wait - time.Second)
		if early, _ := q.Claim(ctx); early != nil {
			t.Fatalf("job redelivered before %v backoff", wait)
		}
		c.t = c.t.Add(time.Second)
	}
}

func TestDrainProcessesInOrder(t *testing.T) {
	q, c := newQueue(t, jobs.Options{})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.Publish(ctx, jobs.CardJob{CardID: id}); err != nil {
			t.Fatal(err)
		}
		c.t = c.t.Add(time.Millisecond)
	}

	var seen []string
	n := q.Drain(ctx, func(_ context.Context, job *jobs.Job) error {
		seen = append(seen, job.Card.CardID)
		return nil
	})
	if n != 3 {
		t.Fatalf("drained %d, want 3", n)
	}
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("order = %v", seen)
	}
	if left, _ := q.Len(ctx); left != 0 {
		t.Fatalf("len = %d, want 0", left)
	}
}

func TestDrainDiscardsAfterMaxAttempts(t *testing.T) {
	q, c := newQueue(t, jobs.Options{MaxAttempts: 2, RetryBackoff: time.Minute})
	ctx := context.Background()
	q.Publish(ctx, jobs.CardJob{CardID: "c1"})

	calls := 0
	handler := func(context.Context, *jobs.Job) error {
		calls++
		return errors.New("boom")
	}

	if n := q.Drain(ctx, handler); n != 1 || calls != 1 {
		t.Fatalf("first pass: drained %d, calls %d, want 1 and 1", n, calls)
	}
	if n := q.Drain(ctx, handler); n != 0 || calls != 1 {
		t.Fatalf("pass inside the backoff: drained %d, calls %d", n, calls)
	}

	c.t = c.t.Add(time.Minute)
	q.Drain(ctx, handler)
	if calls != 2 {
		t.Fatalf("handler calls = %d after first backoff, want 2", calls)
	}

	c.t = c.t.Add(2 * time.Minute)
	q.Drain(ctx, handler)
	if calls != 2 {
		t.Fatalf("handler calls = %d, want 2: third attempt must be discarded", calls)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("len = %d, want 0 after discard", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	q, _ := newQueue(t, jobs.Options{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	q.Publish(ctx, jobs.CardJob{CardID: "c1"})

	handled := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(_ context.Context, job *jobs.Job) error {
			handled <- job.Card.CardID
			return nil
		})
		close(done)
	}()

	select {
	case id := <-handled:
		if id != "c1" {
			t.Fatalf("handled %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job not handled")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
