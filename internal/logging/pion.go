package logging

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// PionFactory routes pion's internal logs through zerolog. Every scope gets
// its own child logger tagged with module=pion and scope=<name>.
type PionFactory struct {
	Logger zerolog.Logger

	// Level caps pion verbosity independently of the application level;
	// pion's ice and dtls scopes are very chatty at debug.
	Level zerolog.Level
}

// NewPionFactory returns a factory writing to l at warn level and above.
func NewPionFactory(l zerolog.Logger) *PionFactory {
	return &PionFactory{Logger: l, Level: zerolog.WarnLevel}
}

// NewLogger implements logging.LoggerFactory.
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{
		log: f.Logger.Level(f.Level).With().
			Str("module", "pion").
			Str("scope", scope).
			Logger(),
	}
}

type pionLogger struct {
	log zerolog.Logger
}

func (l *pionLogger) Trace(msg string) { l.log.Trace().Msg(msg) }
func (l *pionLogger) Tracef(format string, args ...any) {
	l.log.Trace().Msg(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Debug(msg string) { l.log.Debug().Msg(msg) }
func (l *pionLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msg(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Info(msg string) { l.log.Info().Msg(msg) }
func (l *pionLogger) Infof(format string, args ...any) {
	l.log.Info().Msg(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Warn(msg string) { l.log.Warn().Msg(msg) }
func (l *pionLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msg(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Error(msg string) { l.log.Error().Msg(msg) }
func (l *pionLogger) Errorf(format string, args ...any) {
	l.log.Error().Msg(fmt.Sprintf(format, args...))
}
