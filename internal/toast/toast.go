// Package toast carries transient user-visible notices from the managers to
// whatever front end is driving them.
package toast

import (
	"sync"

	"lifeline/internal/infra"
)

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast is one transient notice.
type Toast struct {
	Level   Level
	Title   string
	Message string
	// Sound is set when the front end should play the alert sound.
	Sound bool
}

// Sink receives notices. Implementations must not block.
type Sink interface {
	Show(Toast)
}

// Func adapts a plain function to Sink.
type Func func(Toast)

func (f Func) Show(t Toast) { f(t) }

// Discard drops every notice.
var Discard Sink = Func(func(Toast) {})

// LogSink writes notices to a logger.
type LogSink struct {
	Logger infra.Logger
}

func (s LogSink) Show(t Toast) {
	ev := s.Logger.Info()
	switch t.Level {
	case LevelError:
		ev = s.Logger.Error()
	case LevelWarning:
		ev = s.Logger.Warn()
	}
	ev.Str("title", t.Title).Bool("sound", t.Sound).Msg(t.Message)
}

// Recorder keeps every notice it is shown.
type Recorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *Recorder) Show(t Toast) {
	r.mu.Lock()
	r.toasts = append(r.toasts, t)
	r.mu.Unlock()
}

// Toasts returns a copy of what was shown so far.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

// Len returns the number of notices shown so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.toasts)
}

// Tee shows every notice on each of sinks in order. Nil sinks are skipped.
func Tee(sinks ...Sink) Sink {
	return Func(func(t Toast) {
		for _, s := range sinks {
			if s != nil {
				s.Show(t)
			}
		}
	})
}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
