package scoring

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var bLog = log.WithField("mod", "scoring")

// Board is the cached leaderboard. It is purely derived: Refresh
// recomputes every entry from the stored results, and anything that
// changes a standing (a scoring run, a disqualification) triggers one.
type Board struct {
	compute func() ([]ScoreTuple, error)

	mtx     sync.RWMutex
	entries []Entry
	updated time.Time
}

func NewBoard(compute func() ([]ScoreTuple, error)) *Board {
	return &Board{compute: compute}
}

// Refresh recomputes and swaps in the new board atomically.
func (b *Board) Refresh() error {
	tuples, err := b.compute()
	if err != nil {
		bLog.WithError(err).Error("failed to recompute leaderboard")
		return err
	}
	entries := Rank(tuples)

	b.mtx.Lock()
	b.entries = entries
	b.updated = time.Now().UTC()
	b.mtx.Unlock()

	bLog.WithField("entries", len(entries)).Debug("leaderboard refreshed")
	return nil
}

// Entries returns the current board and when it was computed.
func (b *Board) Entries() ([]Entry, time.Time) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out, b.updated
}
