// Package nanotify carries user-facing notifications (the toasts shown at the
// top of the console) from wherever they're raised to the layout that renders
// them.
package nanotify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelError   Level = "error"
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
)

type Notification struct {
	Level   Level
	Message string
}

type Notifier interface {
	Notify(level Level, message string)
}

// Queue is a Notifier that holds notifications until they're drained by the
// next rendered page. Every notification is also logged.
type Queue struct {
	logger        *logrus.Logger
	mut           sync.Mutex
	notifications []Notification
}

func NewQueue(logger *logrus.Logger) *Queue {
	return &Queue{logger: logger}
}

func (q *Queue) Notify(level Level, message string) {
	q.mut.Lock()
	defer q.mut.Unlock()

	q.notifications = append(q.notifications, Notification{Level: level, Message: message})

	entry := q.logger.WithField("level_notification", string(level))
	if level == LevelError {
		entry.Warnf("Notification: %s", message)
	} else {
		entry.Infof("Notification: %s", message)
	}
}

// Drain returns pending notifications in the order they were raised and
// empties the queue.
func (q *Queue) Drain() []Notification {
	q.mut.Lock()
	defer q.mut.Unlock()

	notifications := q.notifications
	q.notifications = nil
	return notifications
}
