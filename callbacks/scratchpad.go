package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/reagent/agent"
	"github.com/effective-security/reagent/pkg/llmutils"
	"github.com/effective-security/reagent/tools"
	"github.com/effective-security/x/slices"
)

var TimeNowFn = time.Now

// SessionStats is the summary of a session
type SessionStats struct {
	SessionID string
	Outcome   agent.Outcome

	Duration            time.Duration
	Steps               uint32
	ParseErrors         uint32
	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	ToolNotFound        uint32
}

// Scratchpad keeps a transcript and stats per session,
// the session is identified by the SessionContext of ctx.
type Scratchpad struct {
	runs map[string]*run
	done map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		done: make(map[string]*run),
		mode: mode,
	}
}

// Take returns the stats and the transcript of a finished session,
// and removes them from the scratchpad
func (l *Scratchpad) Take(sessionID string) (*SessionStats, []byte) {
	l.lock.Lock()
	r := l.done[sessionID]
	delete(l.done, sessionID)
	l.lock.Unlock()

	if r == nil {
		return nil, nil
	}
	stats := r.stats
	return &stats, r.w.Bytes()
}

// Active returns the number of sessions in progress
func (l *Scratchpad) Active() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.runs)
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	id := agent.GetSessionID(ctx)
	if id == "" {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[id]
}

func (l *Scratchpad) OnSessionStart(ctx context.Context, task string) {
	id := agent.GetSessionID(ctx)
	if id == "" {
		return
	}

	r := &run{
		stats:   SessionStats{SessionID: id},
		started: time.Now(),
	}
	l.lock.Lock()
	l.runs[id] = r
	l.lock.Unlock()

	r.print("*** Session Started ***")
	r.print("Task:", task)
}

func (l *Scratchpad) OnStep(ctx context.Context, step agent.Step) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}
	atomic.AddUint32(&r.stats.Steps, 1)

	r.print(fmt.Sprintf("*** Step %d: %s ***", step.Index, step.State))
	if step.Thought != "" {
		r.print("Thought:", step.Thought)
	}
	for _, call := range step.Calls() {
		r.print("Action:", call.String())
	}
	if step.Observation != nil {
		obs := *step.Observation
		if l.mode != ModeVerbose {
			obs = slices.StringUpto(obs, 256)
		}
		r.print("Observation:", obs)
	}
}

func (l *Scratchpad) OnParseError(ctx context.Context, response string, err error) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}
	atomic.AddUint32(&r.stats.ParseErrors, 1)
	r.print("*** Parse Error ***", err.Error())
	if l.mode == ModeVerbose {
		r.print("Response:", response)
	}
}

func (l *Scratchpad) OnSessionEnd(ctx context.Context, res *agent.SessionResult) {
	id := agent.GetSessionID(ctx)
	l.lock.Lock()
	r := l.runs[id]
	delete(l.runs, id)
	l.lock.Unlock()
	if r == nil {
		return
	}

	r.stats.Outcome = res.Outcome
	r.stats.Duration = time.Since(r.started)

	r.print(fmt.Sprintf("Steps: %d of %d, Parse errors: %d",
		res.StepCount,
		res.MaxSteps,
		r.stats.ParseErrors,
	))
	r.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d",
		r.stats.ToolsCalls,
		r.stats.ToolsCallsFailed,
		r.stats.ToolNotFound,
	))
	switch {
	case res.FinalAnswer != nil:
		r.print("Final Answer:", *res.FinalAnswer)
	case res.Error != "":
		r.print("Error:", res.Error)
	}
	r.print(fmt.Sprintf("*** Session Ended: %s ***", res.Outcome))

	l.lock.Lock()
	l.done[id] = r
	l.lock.Unlock()
}

func (l *Scratchpad) OnToolStart(ctx context.Context, tool tools.Descriptor, args map[string]any) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}
	atomic.AddUint32(&r.stats.ToolsCalls, 1)
	r.print(tool.Name, "*** Tool Start ***")
	if l.mode == ModeVerbose {
		r.print(tool.Name, "Input:", llmutils.ToJSON(args))
	}
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}
	atomic.AddUint32(&r.stats.ToolsCallsSucceeded, 1)
	if l.mode == ModeVerbose {
		r.print(tool.Name, "Output:", res.Observation())
	}
	r.print(tool.Name, "*** Tool End ***")
}

func (l *Scratchpad) OnToolError(ctx context.Context, tool tools.Descriptor, args map[string]any, res tools.Result) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}
	atomic.AddUint32(&r.stats.ToolsCallsFailed, 1)
	r.print(tool.Name, "*** Tool Error ***", res.Observation())
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, name string) {
	r := l.getRun(ctx)
	if r == nil {
		return
	}
	atomic.AddUint32(&r.stats.ToolNotFound, 1)
	r.print("*** Tool Not Found ***", name)
}

type run struct {
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   SessionStats
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp sessionID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	ts := TimeNowFn().Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.stats.SessionID)
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
