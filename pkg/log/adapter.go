package log

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogger routes the checkpoint database's internal logging into logrus.
// Badger reports compactions and value-log GC at info level; those are
// demoted to debug so a run's info output stays about entities.
type BadgerLogger struct {
	entry *logrus.Entry
}

// NewBadgerLogger tags every line with component=badgerdb.
func NewBadgerLogger(entry *logrus.Entry) *BadgerLogger {
	return &BadgerLogger{entry: entry.WithField("component", "badgerdb")}
}

func (l *BadgerLogger) Errorf(f string, v ...any)   { l.entry.Error(badgerLine(f, v)) }
func (l *BadgerLogger) Warningf(f string, v ...any) { l.entry.Warn(badgerLine(f, v)) }
func (l *BadgerLogger) Infof(f string, v ...any)    { l.entry.Debug(badgerLine(f, v)) }
func (l *BadgerLogger) Debugf(f string, v ...any)   { l.entry.Trace(badgerLine(f, v)) }

// badgerLine formats a badger message without its trailing newline.
func badgerLine(f string, v []any) string {
	return strings.TrimRight(fmt.Sprintf(f, v...), "\n")
}
