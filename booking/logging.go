package booking

import "github.com/sirupsen/logrus"

// logOr returns l, falling back to the logrus standard logger so services
// built in tests without a logger still work.
func logOr(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}

func clockOr(c Clock) Clock {
	if c == nil {
		return SystemClock()
	}
	return c
}
