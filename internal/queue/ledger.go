package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/fanout/internal/errors"
)

// Record is the stored form of a message. It is JSON-serializable so that
// file-backed brokers can persist a Ledger as-is.
type Record struct {
	ID           string     `json:"id"`
	Body         string     `json:"body"`
	Attributes   Attributes `json:"attributes,omitempty"`
	SentAt       time.Time  `json:"sent_at"`
	VisibleAt    time.Time  `json:"visible_at"`
	Token        string     `json:"token,omitempty"`
	ReceiveCount int        `json:"receive_count"`
}

// Ledger holds the messages of one queue in send order and implements the
// lease bookkeeping shared by every broker: claim visible messages, extend
// a claim, delete by token. A Ledger is not safe for concurrent use; the
// owning broker serializes access.
type Ledger struct {
	Records []*Record `json:"records"`
}

// Append stores a new, immediately visible message and returns it.
func (l *Ledger) Append(body string, attrs Attributes, now time.Time) *Record {
	r := &Record{
		ID:         uuid.NewString(),
		Body:       body,
		Attributes: attrs.Clone(),
		SentAt:     now,
		VisibleAt:  now,
	}
	l.Records = append(l.Records, r)
	return r
}

// Claim leases up to max visible messages for lease. Each claimed message
// gets a fresh token, so tokens from earlier deliveries stop working.
func (l *Ledger) Claim(now time.Time, max int, lease time.Duration) []Message {
	if max < 1 {
		max = 1
	}
	var out []Message
	for _, r := range l.Records {
		if len(out) == max {
			break
		}
		if r.VisibleAt.After(now) {
			continue
		}
		r.Token = uuid.NewString()
		r.VisibleAt = now.Add(lease)
		r.ReceiveCount++
		out = append(out, Message{
			ID:           r.ID,
			Body:         r.Body,
			Attributes:   r.Attributes.Clone(),
			Token:        r.Token,
			ReceiveCount: r.ReceiveCount,
		})
	}
	return out
}

// Extend moves the deadline of the message holding token to
// max(current deadline, now+lease).
func (l *Ledger) Extend(token string, now time.Time, lease time.Duration) error {
	r := l.byToken(token)
	if r == nil {
		return errors.ErrUnknownToken
	}
	if next := now.Add(lease); next.After(r.VisibleAt) {
		r.VisibleAt = next
	}
	return nil
}

// Remove deletes the message holding token.
func (l *Ledger) Remove(token string) error {
	for i, r := range l.Records {
		if token != "" && r.Token == token {
			l.Records = append(l.Records[:i], l.Records[i+1:]...)
			return nil
		}
	}
	return errors.ErrUnknownToken
}

// NextVisible returns the earliest time a currently leased message becomes
// visible again. ok is false when nothing is leased.
func (l *Ledger) NextVisible(now time.Time) (t time.Time, ok bool) {
	for _, r := range l.Records {
		if !r.VisibleAt.After(now) {
			continue
		}
		if !ok || r.VisibleAt.Before(t) {
			t, ok = r.VisibleAt, true
		}
	}
	return t, ok
}

// Stats counts visible and leased messages at now.
func (l *Ledger) Stats(now time.Time) Stats {
	var s Stats
	for _, r := range l.Records {
		if r.VisibleAt.After(now) {
			s.InFlight++
		} else {
			s.Visible++
		}
	}
	return s
}

func (l *Ledger) byToken(token string) *Record {
	if token == "" {
		return nil
	}
	for _, r := range l.Records {
		if r.Token == token {
			return r
		}
	}
	return nil
}

// Stats is a point-in-time view of a queue's depth.
type Stats struct {
	Visible  int `json:"visible"`
	InFlight int `json:"in_flight"`
}
