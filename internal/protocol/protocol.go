// Package protocol defines the wire formats exchanged over queues and the
// blob store: job requests, input records, dispatch units, results,
// completion notices and the worker terminate sentinel.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// Terminate sentinel sent to each worker when the coordinator shuts down.
const (
	TerminateBody  = "terminate!"
	TerminateValue = "Terminate"
)

// Sarcasm labels.
const (
	Sarcastic    = "Sarcasm"
	NotSarcastic = "No Sarcasm"
)

// JobRequest is a client submission. The reply address is the client's
// private queue and doubles as the job's identity.
type JobRequest struct {
	ReplyAddress string
	Bucket       string
	Key          string
	BatchSize    int
	Terminate    bool
}

// Encode renders the request as a submission message.
func (r JobRequest) Encode() (string, queue.Attributes) {
	attrs := queue.Attributes{
		queue.AttrBucket:    r.Bucket,
		queue.AttrKey:       r.Key,
		queue.AttrBatchSize: strconv.Itoa(r.BatchSize),
	}
	if r.Terminate {
		attrs[queue.AttrTerminate] = TerminateValue
	}
	return r.ReplyAddress, attrs
}

// ParseJobRequest decodes a submission message. A missing, non-numeric or
// non-positive batch size decodes as 0, which disables scale-up for the job
// without rejecting it.
func ParseJobRequest(msg queue.Message) (JobRequest, error) {
	reply := strings.TrimSpace(msg.Body)
	if reply == "" {
		return JobRequest{}, errors.NewDataError("submission has no reply address", errors.ErrMissingAttribute).WithField("body")
	}
	bucket, err := msg.Attributes.Require(queue.AttrBucket)
	if err != nil {
		return JobRequest{}, err
	}
	key, err := msg.Attributes.Require(queue.AttrKey)
	if err != nil {
		return JobRequest{}, err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(msg.Attributes[queue.AttrBatchSize]))
	if convErr != nil || n < 1 {
		n = 0
	}
	_, terminate := msg.Attributes[queue.AttrTerminate]
	return JobRequest{
		ReplyAddress: reply,
		Bucket:       bucket,
		Key:          key,
		BatchSize:    n,
		Terminate:    terminate,
	}, nil
}

// Rating is a review's caller-supplied label. Input files carry it either as
// a JSON number or a string; both decode to the string form.
type Rating string

// UnmarshalJSON accepts numbers and strings.
func (r *Rating) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Rating(s)
		return nil
	}
	if string(data) == "null" {
		*r = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = Rating(n.String())
	return nil
}

// Review is one entry of an input record.
type Review struct {
	ID     string `json:"id"`
	Link   string `json:"link"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Rating Rating `json:"rating"`
	Author string `json:"author"`
	Date   string `json:"date"`
}

// record is one line of an input blob.
type record struct {
	Title   string    `json:"title"`
	Reviews *[]Review `json:"reviews"`
}

// Unit is one review dispatched to a worker.
type Unit struct {
	ID           string
	ReplyAddress string
	Text         string
	Link         string
	Rating       string
}

// ParseRecord expands one input line into units for the job at
// replyAddress. Each unit gets a fresh ID. A blank line yields no units; a
// line that is not a JSON object with a "reviews" array is malformed.
func ParseRecord(line, replyAddress string) ([]Unit, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}
	var rec record
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, errors.NewDataError("record is not valid JSON", errors.Join(errors.ErrMalformedRecord, err)).WithRecord(trimmed)
	}
	if rec.Reviews == nil {
		return nil, errors.NewDataError("record has no reviews array", errors.ErrMalformedRecord).
			WithField("reviews").WithRecord(trimmed)
	}
	units := make([]Unit, 0, len(*rec.Reviews))
	for _, rv := range *rec.Reviews {
		units = append(units, Unit{
			ID:           uuid.NewString(),
			ReplyAddress: replyAddress,
			Text:         rv.Text,
			Link:         rv.Link,
			Rating:       string(rv.Rating),
		})
	}
	return units, nil
}

// Encode renders the unit as a dispatch message.
func (u Unit) Encode() (string, queue.Attributes) {
	return u.Text, queue.Attributes{
		queue.AttrReplyAddress: u.ReplyAddress,
		queue.AttrRating:       u.Rating,
		queue.AttrLink:         u.Link,
		queue.AttrUnitID:       u.ID,
	}
}

// ParseUnit decodes a dispatch message. Only the reply address is
// required; without it the result would have nowhere to go.
func ParseUnit(msg queue.Message) (Unit, error) {
	reply, err := msg.Attributes.Require(queue.AttrReplyAddress)
	if err != nil {
		return Unit{}, err
	}
	return Unit{
		ID:           msg.Attributes[queue.AttrUnitID],
		ReplyAddress: reply,
		Text:         msg.Body,
		Link:         msg.Attributes[queue.AttrLink],
		Rating:       msg.Attributes[queue.AttrRating],
	}, nil
}

// IsTerminate reports whether a dispatch message is the terminate sentinel.
func IsTerminate(msg queue.Message) bool {
	return msg.Body == TerminateBody
}

// TerminateMessage returns the sentinel body and attributes.
func TerminateMessage() (string, queue.Attributes) {
	return TerminateBody, queue.Attributes{queue.AttrTerminate: TerminateValue}
}

// ParseRating converts a rating label to an integer.
func ParseRating(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.NewDataError("rating is not an integer", errors.ErrMalformedRecord).
			WithField(queue.AttrRating).WithRecord(s)
	}
	return n, nil
}

// DeriveSarcasm labels a review sarcastic when the reviewer's rating
// disagrees with the computed sentiment.
func DeriveSarcasm(rating, sentiment int) string {
	if rating != sentiment {
		return Sarcastic
	}
	return NotSarcastic
}

// Completion is the notice sent to a job's reply queue once its output has
// been uploaded.
type Completion struct {
	Bucket string
	Key    string
}

// Encode renders the notice. The body is the output key.
func (c Completion) Encode() (string, queue.Attributes) {
	return c.Key, queue.Attributes{queue.AttrBucket: c.Bucket, queue.AttrKey: c.Key}
}

// ParseCompletion decodes a completion notice. The bucket attribute is
// optional so that bare key notices are accepted too.
func ParseCompletion(msg queue.Message) (Completion, error) {
	key := strings.TrimSpace(msg.Body)
	if key == "" {
		return Completion{}, errors.NewDataError("completion has no output key", errors.ErrMissingAttribute).WithField("body")
	}
	return Completion{Bucket: msg.Attributes[queue.AttrBucket], Key: key}, nil
}
