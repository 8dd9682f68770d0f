package comysql

import "github.com/sirupsen/logrus"

// logger is the package-level structured logger, in the spirit of the
// teacher's package-level errLog but with fields instead of bare strings.
// Callers that want quiet output can SetLogger(logrus.New()) with the
// output redirected to io.Discard, or raise the level.
var logger = logrus.New()

// SetLogger replaces the package-level logger. Passing nil restores a
// fresh default logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		logger = logrus.New()
		return
	}
	logger = l
}

// fieldLogger binds a connection id to every entry it emits, the way
// gevent-MySQL's BufferedStream ties errors back to one socket.
type fieldLogger struct {
	entry *logrus.Entry
}

func newFieldLogger(connID string) *fieldLogger {
	return &fieldLogger{entry: logger.WithField("conn_id", connID)}
}

func (f *fieldLogger) withError(err error) *fieldLogger {
	return &fieldLogger{entry: f.entry.WithError(err)}
}

func (f *fieldLogger) error(msg string) { f.entry.Error(msg) }
func (f *fieldLogger) debug(msg string) { f.entry.Debug(msg) }
