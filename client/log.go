package client

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `client` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal operation,
//     with the exception of one time (infrequent) initialization data that is useful for monitoring
//     this includes:
//     - protocol errors and invalid transitions
//     - reconnects and dropped frames
// Warning:
//     unexpected panics even if handled and suppressed for partial operation
// V(1):
//     lifecycle events with ids that can be used to filter
//     e.g. state changes, subscribe, destroy
// V(2):
//     per frame and per op tracing
//     e.g. send, receive, ack, retry

const LogLevelInfo = glog.Level(0)
const LogLevelLifecycle = glog.Level(1)
const LogLevelTrace = glog.Level(2)

type LogFunction func(string, ...any)

func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("[%s]%s", tag, m))
		}
	}
}

func SubLogFn(level glog.Level, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			log("%s: %s", tag, m)
		}
	}
}
