// Package testutil provides testing utilities for fanout tests.
package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/fanout/internal/queue"
)

// Eventually polls cond every few milliseconds until it returns true or
// timeout elapses, failing the test in the latter case.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s: "+format, append([]any{timeout}, args...)...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Drain receives every currently visible message on address, deleting each
// one, and returns them in delivery order.
func Drain(t *testing.T, q queue.Queue, address string) []queue.Message {
	t.Helper()
	ctx := context.Background()
	var out []queue.Message
	for {
		msgs, err := q.Receive(ctx, address, queue.ReceiveOptions{MaxMessages: 10, Lease: time.Minute})
		if err != nil {
			t.Fatalf("Receive(%s) error = %v", address, err)
		}
		if len(msgs) == 0 {
			return out
		}
		for _, m := range msgs {
			if err := q.Delete(ctx, address, m.Token); err != nil {
				t.Fatalf("Delete(%s) error = %v", address, err)
			}
		}
		out = append(out, msgs...)
	}
}

// Review is one review inside an input record.
type Review struct {
	ID     string `json:"id,omitempty"`
	Link   string `json:"link"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
	Rating int    `json:"rating"`
	Author string `json:"author,omitempty"`
}

// InputLine renders one JSON-lines input record holding reviews.
func InputLine(t *testing.T, title string, reviews ...Review) string {
	t.Helper()
	data, err := json.Marshal(struct {
		Title   string   `json:"title"`
		Reviews []Review `json:"reviews"`
	}{title, reviews})
	if err != nil {
		t.Fatalf("marshal input line: %v", err)
	}
	return string(data)
}

// InputBlob joins lines into a newline-terminated JSON-lines blob.
func InputBlob(lines ...string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}
