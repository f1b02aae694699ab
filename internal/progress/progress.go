// Package progress reports the state of long-running operations such as
// materializing a remote resource to a temp file.
package progress

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

type State int

const (
	Pending State = iota
	Running
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MinInterval is the minimum time between two unforced updates.
const MinInterval = 100 * time.Millisecond

var ErrNotRunning = errors.New("progress indicator is not running")

type EventKind int

const (
	EventStart EventKind = iota
	EventUpdate
	EventFinish
	EventFail
	EventMessage
)

// Event is what a Sink renders.
type Event struct {
	Kind     EventKind
	Name     string
	Action   string
	Unit     string
	Progress int64
	// Max is 0 when the total is unknown.
	Max     int64
	Message string
}

// Percent is the completion ratio in [0, 100], or -1 when Max is unknown.
func (e Event) Percent() float64 {
	if e.Max <= 0 {
		return -1
	}
	return 100 * float64(e.Progress) / float64(e.Max)
}

type Sink interface {
	Render(Event)
}

type Option func(*Indicator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Indicator) { i.now = now }
}

// Indicator moves through pending, running and then finished or failed.
// It is safe for concurrent use.
type Indicator struct {
	mu   sync.Mutex
	name string
	sink Sink
	now  func() time.Time

	state    State
	action   string
	unit     string
	progress int64
	max      int64
	last     time.Time
}

func New(name string, sink Sink, opts ...Option) *Indicator {
	if sink == nil {
		sink = Noop{}
	}
	i := &Indicator{name: name, sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Start enters the running state with zero progress. A total of 0 means the
// total is unknown.
func (i *Indicator) Start(action, unit string, total int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = Running
	i.action = action
	i.unit = unit
	i.progress = 0
	i.max = total
	i.last = i.now()
	i.sink.Render(i.event(EventStart, ""))
}

// SetProgress records the absolute progress. The sink is only updated when
// force is set or MinInterval has passed since the last update.
func (i *Indicator) SetProgress(p int64, force bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.set(p, force)
}

func (i *Indicator) IncreaseProgress(delta int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.set(i.progress+delta, false)
}

func (i *Indicator) set(p int64, force bool) error {
	if i.state != Running {
		return ErrNotRunning
	}
	i.progress = p
	now := i.now()
	if force || now.Sub(i.last) >= MinInterval {
		i.last = now
		i.sink.Render(i.event(EventUpdate, ""))
	}
	return nil
}

// Finish stops a running indicator successfully.
func (i *Indicator) Finish(msg string) error {
	return i.stop(Finished, EventFinish, msg)
}

// Fail stops a running indicator. The message is rendered with a FAIL prefix.
func (i *Indicator) Fail(msg string) error {
	return i.stop(Failed, EventFail, "FAIL "+msg)
}

func (i *Indicator) stop(state State, kind EventKind, msg string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != Running {
		return ErrNotRunning
	}
	i.sink.Render(i.event(EventUpdate, ""))
	i.state = state
	i.sink.Render(i.event(kind, msg))
	return nil
}

// Write renders a free-form message without changing state.
func (i *Indicator) Write(msg string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sink.Render(i.event(EventMessage, msg))
}

func (i *Indicator) Status() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Indicator) Progress() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.progress
}

func (i *Indicator) event(kind EventKind, msg string) Event {
	return Event{
		Kind:     kind,
		Name:     i.name,
		Action:   i.action,
		Unit:     i.unit,
		Progress: i.progress,
		Max:      i.max,
		Message:  msg,
	}
}

type countingWriter struct {
	ind *Indicator
}

// Writer returns an io.Writer that adds every written byte count to ind.
// It is meant for io.TeeReader and io.MultiWriter during copies.
func Writer(ind *Indicator) io.Writer {
	return countingWriter{ind: ind}
}

func (w countingWriter) Write(p []byte) (int, error) {
	if err := w.ind.IncreaseProgress(int64(len(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
