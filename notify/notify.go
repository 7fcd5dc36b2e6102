package notify

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a short message shown to the user.
type Notice struct {
	Title       string
	Description string
	Level       Level
}

func Info(title, description string) Notice {
	return Notice{Title: title, Description: description, Level: LevelInfo}
}

func Error(title, description string) Notice {
	return Notice{Title: title, Description: description, Level: LevelError}
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Default returns a LogNotifier on the global logger.
func Default() *LogNotifier {
	return NewLogNotifier(log.Logger)
}

func (l *LogNotifier) Notify(n Notice) {
	event := l.logger.Info()
	if n.Level == LevelError {
		event = l.logger.Error()
	}
	event.Str("title", n.Title).Msg(n.Description)
}

// Recorder keeps every notice it receives.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Titles returns the recorded titles in order.
func (r *Recorder) Titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	titles := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		titles = append(titles, n.Title)
	}
	return titles
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = nil
}
