package badger

import (
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// zapBadgerLogger routes badger's printf-style logging into zap.
// Badger's info output (compactions, flushes) is demoted to debug.
type zapBadgerLogger struct {
	sugar *zap.SugaredLogger
}

var _ badgerdb.Logger = (*zapBadgerLogger)(nil)

func newZapBadgerLogger(l *zap.Logger) *zapBadgerLogger {
	return &zapBadgerLogger{sugar: l.Named("badger").Sugar()}
}

func (z *zapBadgerLogger) Errorf(format string, args ...interface{}) {
	z.sugar.Error(trimmed(format, args...))
}

func (z *zapBadgerLogger) Warningf(format string, args ...interface{}) {
	z.sugar.Warn(trimmed(format, args...))
}

func (z *zapBadgerLogger) Infof(format string, args ...interface{}) {
	z.sugar.Debug(trimmed(format, args...))
}

func (z *zapBadgerLogger) Debugf(format string, args ...interface{}) {
	z.sugar.Debug(trimmed(format, args...))
}

// badger terminates most messages with a newline
func trimmed(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
