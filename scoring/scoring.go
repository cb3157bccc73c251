package scoring

import (
	"sort"
	"time"

	"github.com/verity-subnet/verity-pool/evaluator"
)

// ScoreTuple is one miner's derived standing: recomputed from stored
// statement results on demand, never kept as independent truth.
type ScoreTuple struct {
	Wallet          string    `json:"wallet"`
	SubmissionID    string    `json:"submission_id"`
	TotalCorrect    int       `json:"total_correct"`
	TotalSeconds    float64   `json:"total_processing_time"`
	FirstSubmission time.Time `json:"first_submission_time"`
}

// Entry is one leaderboard row. Miners whose three keys all tie share
// a rank, and the next distinct tuple takes the position it would hold
// if every tied miner above it were counted.
type Entry struct {
	Rank int `json:"rank"`
	ScoreTuple
}

// Aggregate reduces one submission's statement results to its tuple.
func Aggregate(wallet, submissionID string, first time.Time, results []evaluator.StatementResult) ScoreTuple {
	t := ScoreTuple{
		Wallet:          wallet,
		SubmissionID:    submissionID,
		FirstSubmission: first,
	}
	for _, r := range results {
		if r.Correct {
			t.TotalCorrect++
		}
		t.TotalSeconds += r.ProcessingSeconds
	}
	return t
}

// less orders the competition: most correct first, then least total
// processing time, then earliest first submission.
func less(a, b ScoreTuple) bool {
	if a.TotalCorrect != b.TotalCorrect {
		return a.TotalCorrect > b.TotalCorrect
	}
	if a.TotalSeconds != b.TotalSeconds {
		return a.TotalSeconds < b.TotalSeconds
	}
	return a.FirstSubmission.Before(b.FirstSubmission)
}

func tied(a, b ScoreTuple) bool {
	return a.TotalCorrect == b.TotalCorrect &&
		a.TotalSeconds == b.TotalSeconds &&
		a.FirstSubmission.Equal(b.FirstSubmission)
}

// Rank orders the tuples into leaderboard entries. The input order
// never matters: tuples are first put in a canonical order so the same
// set always yields the same board.
func Rank(tuples []ScoreTuple) []Entry {
	ordered := make([]ScoreTuple, len(tuples))
	copy(ordered, tuples)

	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Wallet < ordered[j].Wallet
	})
	sort.SliceStable(ordered, func(i, j int) bool {
		return less(ordered[i], ordered[j])
	})

	entries := make([]Entry, len(ordered))
	for i, t := range ordered {
		rank := i + 1
		if i > 0 && tied(t, ordered[i-1]) {
			rank = entries[i-1].Rank
		}
		entries[i] = Entry{Rank: rank, ScoreTuple: t}
	}
	return entries
}
