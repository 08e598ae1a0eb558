package live

import (
	"sync"
	"time"

	"github.com/90rdon/Nubela-Tasks/internal/audio"
)

// Clock is the audio clock used for playback scheduling. The real clock is
// wall time; tests drive a fake.
type Clock interface {
	// Now returns the current audio-clock time in seconds.
	Now() float64
	// Schedule runs fn after delay seconds and returns a cancel func.
	Schedule(delay float64, fn func()) (cancel func())
}

type wallClock struct {
	epoch time.Time
}

// NewClock returns a wall-time audio clock starting at zero.
func NewClock() Clock {
	return &wallClock{epoch: time.Now()}
}

func (c *wallClock) Now() float64 {
	return time.Since(c.epoch).Seconds()
}

func (c *wallClock) Schedule(delay float64, fn func()) func() {
	if delay < 0 {
		delay = 0
	}
	t := time.AfterFunc(time.Duration(delay*float64(time.Second)), fn)
	return func() { t.Stop() }
}

// Sink receives a decoded buffer when its scheduled start time arrives.
type Sink interface {
	Play(buf *audio.Buffer)
}

type playbackSource struct {
	cancelPlay func()
	cancelDone func()
}

// Queue schedules decoded model audio for gap-free, back-to-back playback.
// The nextStartTime cursor never decreases except on interruption, when the
// whole queue is dropped and the cursor resets to zero.
type Queue struct {
	clock Clock
	sink  Sink

	mu      sync.Mutex
	next    float64
	seq     int64
	sources map[int64]*playbackSource
	onDrain func()
	closed  bool
}

// NewQueue builds a playback queue over the given clock and sink.
func NewQueue(clock Clock, sink Sink) *Queue {
	return &Queue{
		clock:   clock,
		sink:    sink,
		sources: make(map[int64]*playbackSource),
	}
}

// SetOnDrain registers a callback invoked whenever the last scheduled source
// finishes playing naturally.
func (q *Queue) SetOnDrain(fn func()) {
	q.mu.Lock()
	q.onDrain = fn
	q.mu.Unlock()
}

// Schedule queues a buffer at max(now, nextStartTime) so chunks concatenate
// without gaps or overlap even when decode latency varies. It returns the
// computed start time.
func (q *Queue) Schedule(buf *audio.Buffer) float64 {
	if buf == nil || len(buf.Samples) == 0 {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.next
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	now := q.clock.Now()
	start := q.next
	if now > start {
		start = now
	}
	q.next = start + buf.Duration()
	q.seq++
	id := q.seq
	src := &playbackSource{}
	q.sources[id] = src
	q.mu.Unlock()

	play := q.clock.Schedule(start-now, func() { q.sink.Play(buf) })
	done := q.clock.Schedule(start-now+buf.Duration(), func() { q.complete(id) })

	q.mu.Lock()
	// StopAll may have raced the registration; cancel immediately if so.
	if cur, ok := q.sources[id]; ok {
		cur.cancelPlay = play
		cur.cancelDone = done
	} else {
		play()
		done()
	}
	q.mu.Unlock()
	return start
}

func (q *Queue) complete(id int64) {
	q.mu.Lock()
	if _, ok := q.sources[id]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.sources, id)
	drained := len(q.sources) == 0
	fn := q.onDrain
	q.mu.Unlock()
	if drained && fn != nil {
		fn()
	}
}

// StopAll stops every scheduled or playing source, clears the active set and
// resets the cursor to zero. Safe to call with nothing active.
func (q *Queue) StopAll() {
	q.mu.Lock()
	for id, src := range q.sources {
		if src.cancelPlay != nil {
			src.cancelPlay()
		}
		if src.cancelDone != nil {
			src.cancelDone()
		}
		delete(q.sources, id)
	}
	q.next = 0
	q.mu.Unlock()
}

// Close stops all playback and rejects further scheduling.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.StopAll()
}

// Active returns the number of currently scheduled or playing sources.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sources)
}

// NextStartTime returns the current scheduling cursor.
func (q *Queue) NextStartTime() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}
