package db

import (
	"sync/atomic"

	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

// Journal records one session's notifications and cycles. It satisfies
// pipeline.Notifier and pipeline.CycleObserver. Write failures are logged
// and counted; they never reach the session.
type Journal struct {
	db        *DB
	sessionID string
	failures  atomic.Uint64
}

func NewJournal(db *DB, sessionID string) *Journal {
	return &Journal{db: db, sessionID: sessionID}
}

func (j *Journal) Notify(n pipeline.Notification) {
	if err := j.db.RecordNotification(j.sessionID, n); err != nil {
		j.fail(err)
	}
}

func (j *Journal) ObserveCycle(s pipeline.Status) {
	if err := j.db.RecordCycle(j.sessionID, s); err != nil {
		j.fail(err)
	}
}

func (j *Journal) fail(err error) {
	if n := j.failures.Add(1); n == 1 || n%100 == 0 {
		monitoring.Opsf("[journal] %v (%d failures)", err, n)
	}
}

// Failures returns the number of writes that failed.
func (j *Journal) Failures() uint64 { return j.failures.Load() }
