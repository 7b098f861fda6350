package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/queue"
)

// Result is a worker's analysis of one unit.
type Result struct {
	Sentiment int
	Link      string
	Entities  []string
	Sarcasm   string
}

// Format renders the result block appended to a job's output:
//
//	Sentiment: 4
//	Link: https://...
//	Entities: [Alice:PERSON, Paris:LOCATION]
//	Sarcasm: No Sarcasm
//
// followed by a blank line.
func (r Result) Format() string {
	return fmt.Sprintf("Sentiment: %d\nLink: %s\nEntities: [%s]\nSarcasm: %s\n\n",
		r.Sentiment, r.Link, strings.Join(r.Entities, ", "), r.Sarcasm)
}

// ResultMessage is a formatted result in flight to the coordinator.
type ResultMessage struct {
	ReplyAddress string
	UnitID       string
	Block        string
}

// Encode renders the message for the results queue.
func (m ResultMessage) Encode() (string, queue.Attributes) {
	attrs := queue.Attributes{queue.AttrReplyAddress: m.ReplyAddress}
	if m.UnitID != "" {
		attrs[queue.AttrUnitID] = m.UnitID
	}
	return m.Block, attrs
}

// ParseResultMessage decodes a results-queue message. The unit ID is
// optional; results without one cannot be de-duplicated.
func ParseResultMessage(msg queue.Message) (ResultMessage, error) {
	reply, err := msg.Attributes.Require(queue.AttrReplyAddress)
	if err != nil {
		return ResultMessage{}, err
	}
	return ResultMessage{
		ReplyAddress: reply,
		UnitID:       msg.Attributes[queue.AttrUnitID],
		Block:        msg.Body,
	}, nil
}

// ParseResults reads a job output file back into results. Blocks are
// delimited by their Sarcasm line; blank lines are ignored.
func ParseResults(r io.Reader) ([]Result, error) {
	var (
		out     []Result
		cur     Result
		started bool
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.NewDataError(fmt.Sprintf("line %d has no label", lineNo), errors.ErrMalformedRecord).WithRecord(line)
		}
		value = strings.TrimSpace(value)
		switch label {
		case "Sentiment":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.NewDataError(fmt.Sprintf("line %d: bad sentiment", lineNo), errors.ErrMalformedRecord).WithRecord(line)
			}
			cur = Result{Sentiment: n}
			started = true
		case "Link":
			cur.Link = value
		case "Entities":
			cur.Entities = parseEntities(value)
		case "Sarcasm":
			if !started {
				return nil, errors.NewDataError(fmt.Sprintf("line %d: sarcasm before sentiment", lineNo), errors.ErrMalformedRecord).WithRecord(line)
			}
			cur.Sarcasm = value
			out = append(out, cur)
			cur, started = Result{}, false
		default:
			return nil, errors.NewDataError(fmt.Sprintf("line %d: unknown label %q", lineNo, label), errors.ErrMalformedRecord).WithRecord(line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseEntities(s string) []string {
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
