package log

// PrefixLogger writes to the underlying log, but all messages are prefixed with the
// name of the component that produced them, eg "checkpoint: "
type PrefixLogger struct {
	Log    Log
	Prefix string
}

// Create a new PrefixLogger. A colon and a space are added after 'prefix'.
func NewPrefixLogger(log Log, prefix string) *PrefixLogger {
	return &PrefixLogger{
		Log:    log,
		Prefix: prefix + ": ",
	}
}

// Sub creates a logger for a sub-component, eg "producer: 3: "
func (l *PrefixLogger) Sub(prefix string) *PrefixLogger {
	return &PrefixLogger{
		Log:    l.Log,
		Prefix: l.Prefix + prefix + ": ",
	}
}

func (l *PrefixLogger) Close() {
	l.Log.Close()
}

func (l *PrefixLogger) Debugf(format string, a ...any) {
	l.Log.Debugf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Infof(format string, a ...any) {
	l.Log.Infof(l.Prefix+format, a...)
}

func (l *PrefixLogger) Warnf(format string, a ...any) {
	l.Log.Warnf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Errorf(format string, a ...any) {
	l.Log.Errorf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Criticalf(format string, a ...any) {
	l.Log.Criticalf(l.Prefix+format, a...)
}
