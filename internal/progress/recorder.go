package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
)

// Recorder stamps events with a fixed run ID before handing them to an
// Emitter. A nil Recorder or one without an Emitter discards everything.
type Recorder struct {
	runID   [16]byte
	emitter Emitter
	clock   crawler.Clock
	started time.Time
}

// NewRecorder binds runID to emitter. clock may be nil.
func NewRecorder(runID uuid.UUID, emitter Emitter, clock crawler.Clock) *Recorder {
	return &Recorder{runID: UUIDToBytes(runID), emitter: emitter, clock: clock}
}

// RunStarted emits RUN_START and remembers the start time for RunDone.
func (r *Recorder) RunStarted() {
	if r == nil || r.emitter == nil {
		return
	}
	r.started = r.now()
	r.emitter.Emit(Event{RunID: r.runID, TS: r.started, Stage: StageRunStart})
}

// RunDone emits RUN_DONE with the elapsed run time.
func (r *Recorder) RunDone(note string) {
	if r == nil || r.emitter == nil {
		return
	}
	now := r.now()
	var dur time.Duration
	if !r.started.IsZero() {
		dur = now.Sub(r.started)
	}
	r.emitter.Emit(Event{RunID: r.runID, TS: now, Stage: StageRunDone, Dur: dur, Note: note})
}

// Attempt emits FETCH_DONE for a recorded attempt.
func (r *Recorder) Attempt(a crawler.Attempt) {
	if r == nil || r.emitter == nil {
		return
	}
	ts := a.FinishedAt
	if ts.IsZero() {
		ts = r.now()
	}
	r.emitter.Emit(Event{
		RunID:       r.runID,
		TS:          ts,
		Stage:       StageFetchDone,
		Target:      a.Target,
		Attempt:     a.Attempt,
		Outcome:     a.Outcome.String(),
		StatusClass: ClassifyStatus(a.StatusCode),
		Bytes:       int64(len(a.Payload)),
		Discovered:  a.Discovered,
		Dur:         a.Elapsed,
		Note:        a.Reason,
	})
}

func (r *Recorder) now() time.Time {
	if r.clock != nil {
		return r.clock.Now()
	}
	return time.Now().UTC()
}
