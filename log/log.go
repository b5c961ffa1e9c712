package log

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Loggable is anything that can describe the plugin types it holds.
type Loggable interface {
	// RegisteredTypes returns each registered type with the number of definitions under it.
	RegisteredTypes() map[string]int
}

// New creates the root logger. Pretty selects the human readable console writer, otherwise JSON lines are
// written to out.
func New(out io.Writer, level string, pretty bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), eris.Wrapf(err, "invalid log level %q", level)
	}
	if out == nil {
		out = os.Stdout
	}
	writer := out
	if pretty {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp().
		Logger(), nil
}

// Component returns a sub logger with the entry {"component": name}.
func Component(logger *zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// Registry logs every registered plugin type and how many definitions it has.
func Registry(logger *zerolog.Logger, target Loggable, level zerolog.Level) {
	types := target.RegisteredTypes()
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	arrayLogger := zerolog.Arr()
	for _, name := range names {
		arrayLogger = arrayLogger.Dict(zerolog.Dict().
			Str("type", name).
			Int("definitions", types[name]))
	}
	logger.WithLevel(level).
		Int("total_types", len(names)).
		Array("types", arrayLogger).
		Send()
}

var deprecated sync.Map

// Deprecate logs message as a warning the first time name is deprecated. Later calls with the same name
// are silent.
func Deprecate(logger *zerolog.Logger, name, message string) {
	if _, seen := deprecated.LoadOrStore(name, struct{}{}); seen {
		return
	}
	logger.Warn().Str("deprecated", name).Msg(message)
}
