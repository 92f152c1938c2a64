package tools

import (
	"io"
	"os"
	"strings"

	"github.com/modfin/henry/mapz"
	"github.com/sirupsen/logrus"
)

// NewLogger creates the root logger of a process, every component logger is cloned from it
func NewLogger(level string, format string) *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// DiscardLogger is a logger that writes nowhere, used when no logger is provided
func DiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func LoggerCloner(l *logrus.Logger) *Logger {
	if l == nil {
		l = DiscardLogger()
	}
	return &Logger{
		def: l,
	}
}

type Logger struct {
	def *logrus.Logger
}

func (l *Logger) New(name string) *logrus.Logger {

	hooks := mapz.Clone(l.def.Hooks)

	ll := &logrus.Logger{
		Out:          l.def.Out,
		Formatter:    l.def.Formatter,
		Hooks:        hooks,
		Level:        l.def.Level,
		ExitFunc:     l.def.ExitFunc,
		ReportCaller: l.def.ReportCaller,
	}

	ll.AddHook(LoggerWho{Name: name})
	return ll

}

type LoggerWho struct {
	Name string
}

func (w LoggerWho) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (w LoggerWho) Fire(entry *logrus.Entry) error {
	entry.Data["who"] = w.Name
	return nil
}
