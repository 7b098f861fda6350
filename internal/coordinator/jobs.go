package coordinator

import (
	"sort"
	"sync"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/protocol"
)

type jobStatus int

const (
	jobOpen jobStatus = iota
	jobSealed
	jobFinalizing
)

type job struct {
	request  protocol.JobRequest
	status   jobStatus
	pending  map[string]struct{}
	resolved map[string]struct{}
	units    int
	skipped  int
	retry    bool
}

// Snapshot is a copy of one job's bookkeeping.
type Snapshot struct {
	ReplyAddress string
	BatchSize    int
	Units        int // units successfully dispatched
	Skipped      int // input records skipped as malformed
	Outstanding  int
	Sealed       bool
}

func (j *job) snapshot() Snapshot {
	return Snapshot{
		ReplyAddress: j.request.ReplyAddress,
		BatchSize:    j.request.BatchSize,
		Units:        j.units,
		Skipped:      j.skipped,
		Outstanding:  len(j.pending),
		Sealed:       j.status != jobOpen,
	}
}

// JobTable tracks every accepted, not yet finalized job by reply address.
// Its mutex is the outstanding-count lock: increments, decrements, sealing
// and the emptiness check all take it.
type JobTable struct {
	mu   sync.Mutex
	jobs map[string]*job
}

// NewJobTable creates an empty table.
func NewJobTable() *JobTable {
	return &JobTable{jobs: make(map[string]*job)}
}

// Register adds an open job with nothing outstanding. A second request for
// a reply address already in the table is rejected.
func (t *JobTable) Register(req protocol.JobRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[req.ReplyAddress]; ok {
		return errors.NewStateError("job already registered", nil).WithJob(req.ReplyAddress).
			WithSeverity(errors.SeverityWarning)
	}
	t.jobs[req.ReplyAddress] = &job{
		request:  req,
		pending:  make(map[string]struct{}),
		resolved: make(map[string]struct{}),
	}
	return nil
}

// AddUnits marks unit IDs outstanding ahead of sending them. Only open jobs
// accept units.
func (t *JobTable) AddUnits(reply string, ids []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[reply]
	if !ok {
		return errors.NewStateError("add units", errors.ErrUnknownJob).WithJob(reply)
	}
	if j.status != jobOpen {
		return errors.NewStateError("add units to sealed job", nil).WithJob(reply)
	}
	for _, id := range ids {
		j.pending[id] = struct{}{}
	}
	j.units += len(ids)
	return nil
}

// Rollback withdraws a unit whose send failed.
func (t *JobTable) Rollback(reply, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[reply]
	if !ok || j.status != jobOpen {
		return
	}
	if _, ok := j.pending[id]; ok {
		delete(j.pending, id)
		j.units--
	}
}

// Seal records that every unit of the job has been dispatched. It reports
// whether the job is ready to finalize, in which case the job moves to
// finalizing and the caller owns its finalization.
func (t *JobTable) Seal(reply string, skipped int) (Snapshot, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[reply]
	if !ok {
		return Snapshot{}, false, errors.NewStateError("seal", errors.ErrUnknownJob).WithJob(reply)
	}
	if j.status != jobOpen {
		return j.snapshot(), false, nil
	}
	j.status = jobSealed
	j.skipped = skipped
	ready := len(j.pending) == 0
	if ready {
		j.status = jobFinalizing
	}
	return j.snapshot(), ready, nil
}

// Check reports whether a result for unitID would be accepted, without
// changing anything. An empty unitID is accepted while anything is
// outstanding.
func (t *JobTable) Check(reply, unitID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.lookup(reply, unitID)
	return err
}

// Resolve counts a result against its job. It reports whether the job is
// ready to finalize, in which case the job moves to finalizing and the
// caller owns its finalization. Duplicates and results for unknown or
// finalizing jobs are rejected, so the outstanding count never goes
// negative.
func (t *JobTable) Resolve(reply, unitID string) (Snapshot, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, err := t.lookup(reply, unitID)
	if err != nil {
		return Snapshot{}, false, err
	}
	if unitID == "" {
		unitID = anyKey(j.pending)
	}
	delete(j.pending, unitID)
	j.resolved[unitID] = struct{}{}

	ready := j.status == jobSealed && len(j.pending) == 0
	if ready {
		j.status = jobFinalizing
	}
	return j.snapshot(), ready, nil
}

func (t *JobTable) lookup(reply, unitID string) (*job, error) {
	j, ok := t.jobs[reply]
	if !ok {
		return nil, errors.ErrUnknownJob
	}
	if j.status == jobFinalizing {
		return nil, errors.Wrap(errors.ErrUnknownJob, "job already finalized")
	}
	if unitID == "" {
		if len(j.pending) == 0 {
			return nil, errors.ErrDuplicateResult
		}
		return j, nil
	}
	if _, ok := j.pending[unitID]; ok {
		return j, nil
	}
	if _, ok := j.resolved[unitID]; ok {
		return nil, errors.ErrDuplicateResult
	}
	return nil, errors.Wrap(errors.ErrUnknownJob, "unit not dispatched by this job")
}

// Outstanding returns the number of units still awaited for reply.
func (t *JobTable) Outstanding(reply string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[reply]
	if !ok {
		return 0, false
	}
	return len(j.pending), true
}

// Remove drops a finalized job.
func (t *JobTable) Remove(reply string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, reply)
}

// MarkRetry flags a finalizing job whose finalization failed.
func (t *JobTable) MarkRetry(reply string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[reply]; ok && j.status == jobFinalizing {
		j.retry = true
	}
}

// TakeRetries returns the jobs flagged by MarkRetry and clears the flags.
func (t *JobTable) TakeRetries() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Snapshot
	for _, j := range t.jobs {
		if j.retry {
			j.retry = false
			out = append(out, j.snapshot())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ReplyAddress < out[k].ReplyAddress })
	return out
}

// Len returns the number of jobs in the table.
func (t *JobTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func anyKey(m map[string]struct{}) string {
	for k := range m {
		return k
	}
	return ""
}
