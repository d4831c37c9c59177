// Package announce delivers spoken rider prompts.
//
// Announcements are fire-and-forget: a slow or failing speech backend must
// never block navigation, so Queue drops prompts when its buffer is full.
package announce

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Announcer speaks text in a language tag such as "pt-BR".
type Announcer interface {
	Speak(text, lang string)
}

// Func adapts a function to Announcer.
type Func func(text, lang string)

// Speak calls f.
func (f Func) Speak(text, lang string) { f(text, lang) }

// Nop discards every announcement.
var Nop Announcer = Func(func(string, string) {})

// Logger writes announcements to a zerolog logger. It is the default backend
// for the API and the ride simulator.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger returns a Logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Speak logs the announcement.
func (l *Logger) Speak(text, lang string) {
	l.logger.Info().Str("lang", lang).Str("text", text).Msg("announcement")
}

// QueueConfig holds configuration for Queue.
type QueueConfig struct {
	// Announcer receives queued announcements in order (required).
	Announcer Announcer

	// Size is the buffer size (default: 16).
	Size int

	Logger zerolog.Logger
}

type message struct {
	text string
	lang string
}

// Queue hands announcements to a backend on its own goroutine.
type Queue struct {
	out     Announcer
	logger  zerolog.Logger
	ch      chan message
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts a Queue. Call Close to stop it.
func NewQueue(cfg QueueConfig) *Queue {
	size := cfg.Size
	if size <= 0 {
		size = 16
	}

	q := &Queue{
		out:    cfg.Announcer,
		logger: cfg.Logger,
		ch:     make(chan message, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for m := range q.ch {
		q.out.Speak(m.text, m.lang)
	}
}

// Speak enqueues an announcement without blocking. Announcements that do not
// fit, or that arrive after Close, are dropped and counted.
func (q *Queue) Speak(text, lang string) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		return
	}
	select {
	case q.ch <- message{text: text, lang: lang}:
	default:
		q.dropped.Add(1)
		q.logger.Debug().Str("text", text).Msg("announcement dropped, queue full")
	}
}

// Dropped returns how many announcements were discarded.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting announcements and waits for queued ones to be spoken.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	<-q.done
}

// Message is one recorded announcement.
type Message struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// Recorder keeps every announcement in memory. Useful in tests and for
// exposing recent prompts over the API.
type Recorder struct {
	// Limit keeps only the most recent announcements when positive.
	Limit int

	mu       sync.Mutex
	messages []Message
}

// Speak records the announcement.
func (r *Recorder) Speak(text, lang string) {
	r.mu.Lock()
	r.messages = append(r.messages, Message{Text: text, Lang: lang})
	if r.Limit > 0 && len(r.messages) > r.Limit {
		r.messages = append(r.messages[:0:0], r.messages[len(r.messages)-r.Limit:]...)
	}
	r.mu.Unlock()
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Texts returns the recorded texts in order.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Text
	}
	return out
}

// Tee fans an announcement out to several announcers in order.
func Tee(announcers ...Announcer) Announcer {
	return Func(func(text, lang string) {
		for _, a := range announcers {
			a.Speak(text, lang)
		}
	})
}
