package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/fanout/internal/errors"
)

// Accumulator owns the local output files, one per job, that results are
// appended to until the job is finalized. Its mutex is the file-mapping
// lock: name allocation and appends both take it.
type Accumulator struct {
	mu    sync.Mutex
	fs    afero.Fs
	dir   string
	next  int
	files map[string]string
}

// NewAccumulator creates an accumulator writing under dir on fs.
func NewAccumulator(fs afero.Fs, dir string) *Accumulator {
	return &Accumulator{fs: fs, dir: dir, files: make(map[string]string)}
}

// Init creates the work directory.
func (a *Accumulator) Init() error {
	if err := a.fs.MkdirAll(a.dir, 0o755); err != nil {
		return errors.Wrapf(err, "create work dir %s", a.dir)
	}
	return nil
}

// Append adds block to the job's output, allocating the file on the first
// result. It returns the output file name.
func (a *Accumulator) Append(reply, block string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name, err := a.allocate(reply)
	if err != nil {
		return "", err
	}
	f, err := a.fs.OpenFile(a.path(name), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", errors.NewStateError("open output file", err).WithJob(reply)
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		return "", errors.NewStateError("append result", err).WithJob(reply)
	}
	return name, nil
}

// allocate returns the job's file name, creating an empty file for a job
// seen for the first time. Callers hold a.mu.
func (a *Accumulator) allocate(reply string) (string, error) {
	if name, ok := a.files[reply]; ok {
		return name, nil
	}
	a.next++
	name := fmt.Sprintf("answer-%d.txt", a.next)
	f, err := a.fs.OpenFile(a.path(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", errors.NewStateError("allocate output file", errors.Join(errors.ErrOutputAllocation, err)).WithJob(reply)
	}
	if err := f.Close(); err != nil {
		return "", errors.NewStateError("allocate output file", errors.Join(errors.ErrOutputAllocation, err)).WithJob(reply)
	}
	a.files[reply] = name
	return name, nil
}

// Name returns the job's output file name, if one was allocated.
func (a *Accumulator) Name(reply string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.files[reply]
	return name, ok
}

// Contents returns the job's output file name and everything appended so
// far. A job that never received a result gets an empty file.
func (a *Accumulator) Contents(reply string) (string, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name, err := a.allocate(reply)
	if err != nil {
		return "", nil, err
	}
	data, err := afero.ReadFile(a.fs, a.path(name))
	if err != nil {
		return "", nil, errors.NewStateError("read output file", err).WithJob(reply)
	}
	return name, data, nil
}

// Release deletes the job's local file and forgets its name.
func (a *Accumulator) Release(reply string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.files[reply]
	if !ok {
		return nil
	}
	delete(a.files, reply)
	if err := a.fs.Remove(a.path(name)); err != nil && !os.IsNotExist(err) {
		return errors.NewStateError("remove output file", err).WithJob(reply)
	}
	return nil
}

// Open returns the number of jobs with an allocated file.
func (a *Accumulator) Open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.files)
}

func (a *Accumulator) path(name string) string {
	return filepath.Join(a.dir, name)
}
