package engine

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// runRecovered runs fn on the calling goroutine, converting a panic into an
// error instead of letting it escape, so one worker's panic doesn't take
// down the whole encrypt/decrypt run.
func runRecovered(logger *logrus.Logger, label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"worker": label,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("panic recovered in worker")
			err = fmt.Errorf("engine: panic in %s: %v", label, r)
		}
	}()
	return fn()
}
