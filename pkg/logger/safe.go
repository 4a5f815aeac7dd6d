package logger

// SafeLogger wraps a Logger and swallows panics raised by it, so a broken
// sink can never abort the caller.
type SafeLogger struct {
	inner Logger
}

var _ Logger = (*SafeLogger)(nil)

// Safe wraps l. A nil logger becomes an EmptyLogger.
func Safe(l Logger) *SafeLogger {
	if s, ok := l.(*SafeLogger); ok {
		return s
	}
	if l == nil {
		l = &EmptyLogger{}
	}
	return &SafeLogger{inner: l}
}

func (s *SafeLogger) call(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

func (s *SafeLogger) Info(format string, args ...interface{}) {
	s.call(func() { s.inner.Info(format, args...) })
}

func (s *SafeLogger) InfoWithJob(jobType string, format string, args ...interface{}) {
	s.call(func() { s.inner.InfoWithJob(jobType, format, args...) })
}

func (s *SafeLogger) Warn(format string, args ...interface{}) {
	s.call(func() { s.inner.Warn(format, args...) })
}

func (s *SafeLogger) WarnWithJob(jobType string, format string, args ...interface{}) {
	s.call(func() { s.inner.WarnWithJob(jobType, format, args...) })
}

func (s *SafeLogger) Error(format string, args ...interface{}) {
	s.call(func() { s.inner.Error(format, args...) })
}

func (s *SafeLogger) ErrorWithJob(jobType string, format string, args ...interface{}) {
	s.call(func() { s.inner.ErrorWithJob(jobType, format, args...) })
}

func (s *SafeLogger) Debug(format string, args ...interface{}) {
	s.call(func() { s.inner.Debug(format, args...) })
}

func (s *SafeLogger) DebugWithJob(jobType string, format string, args ...interface{}) {
	s.call(func() { s.inner.DebugWithJob(jobType, format, args...) })
}

func (s *SafeLogger) Notice(format string, args ...interface{}) {
	s.call(func() { s.inner.Notice(format, args...) })
}

func (s *SafeLogger) NoticeWithJob(jobType string, format string, args ...interface{}) {
	s.call(func() { s.inner.NoticeWithJob(jobType, format, args...) })
}
