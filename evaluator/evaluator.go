package evaluator

import (
	"context"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/agent"
	"github.com/verity-subnet/verity-pool/config"
)

var eLog = log.WithField("mod", "evaluator")

// Failure reasons recorded on a StatementResult. Empty means the
// statement came back well-formed in time.
const (
	FailureTimeout   = "timeout"
	FailureMalformed = "malformed_response"
)

// StatementResult records one (submission, statement) outcome. Created
// once during evaluation, never mutated afterward.
type StatementResult struct {
	ID           uint   `gorm:"primary_key" json:"-"`
	SubmissionID string `gorm:"index:submission" json:"submission_id"`
	StatementID  string `json:"statement_id"`

	ExpectedVerdict agent.Verdict `json:"expected_verdict"`
	ReturnedVerdict agent.Verdict `json:"returned_verdict"`
	ReturnedScore   float64       `json:"returned_score"`

	ProcessingSeconds float64 `json:"processing_time_seconds"`
	Correct           bool    `json:"correct"`
	FailureReason     string  `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"-"`
}

// Verifier is the slice of the agent client the evaluator needs.
type Verifier interface {
	Verify(ctx context.Context, req agent.VerifyRequest) (*agent.VerifyResponse, error)
}

// Evaluator runs a validated agent against the hidden statement set
// and persists per-statement results. Statements are dispatched with
// bounded parallelism; a single bad statement never sinks the run.
type Evaluator struct {
	db          *gorm.DB
	statements  []Statement
	parallelism int
}

func New(conf *viper.Viper, db *gorm.DB, statements []Statement) (*Evaluator, error) {
	e := new(Evaluator)
	e.db = db
	e.statements = statements
	e.parallelism = conf.GetInt(config.ConfigEvaluationParallelism)
	if e.parallelism <= 0 {
		e.parallelism = 1
	}

	e.db.AutoMigrate(&StatementResult{})
	return e, nil
}

// Statements exposes the loaded set size for status reporting.
func (e *Evaluator) Statements() int {
	return len(e.statements)
}

// Evaluate runs every statement against the agent and stores one
// result per statement. The returned slice is in statement-set order.
func (e *Evaluator) Evaluate(ctx context.Context, submissionID string, client Verifier) ([]StatementResult, error) {
	results := make([]StatementResult, len(e.statements))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.parallelism)
	for i := range e.statements {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.evaluateOne(ctx, submissionID, e.statements[i], client)
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx := e.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	for i := range results {
		if err := tx.Create(&results[i]).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	var correct int
	for _, r := range results {
		if r.Correct {
			correct++
		}
	}
	eLog.WithFields(log.Fields{
		"submission": submissionID,
		"correct":    correct,
		"total":      len(results),
	}).Info("evaluation complete")

	return results, nil
}

// evaluateOne judges a single statement. A timeout is scored incorrect
// at exactly the ceiling; a malformed answer is scored incorrect with
// the time it actually took. Neither aborts the run.
func (e *Evaluator) evaluateOne(ctx context.Context, submissionID string, s Statement, client Verifier) StatementResult {
	res := StatementResult{
		SubmissionID:    submissionID,
		StatementID:     s.ID,
		ExpectedVerdict: s.Expected,
	}
	ceiling := float64(s.TimeoutSeconds)

	sctx, cancel := context.WithTimeout(ctx, time.Duration(s.TimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := client.Verify(sctx, agent.VerifyRequest{
		Statement:      s.Text,
		StatementID:    s.ID,
		TimeoutSeconds: s.TimeoutSeconds,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if sctx.Err() == context.DeadlineExceeded {
			res.FailureReason = FailureTimeout
			res.ProcessingSeconds = ceiling
		} else {
			res.FailureReason = FailureMalformed
			res.ProcessingSeconds = capSeconds(elapsed, ceiling)
		}
		eLog.WithFields(log.Fields{
			"submission": submissionID,
			"statement":  s.ID,
			"reason":     res.FailureReason,
		}).Debug("statement failed")
		return res
	}

	// Prefer the agent's self-reported processing time, fall back to
	// wall clock, and never let either exceed the ceiling.
	reported := resp.ResponseMetadata.ProcessingTimeSeconds
	if reported <= 0 {
		reported = elapsed
	}
	res.ProcessingSeconds = capSeconds(reported, ceiling)
	res.ReturnedVerdict = resp.OverallVerdict
	res.ReturnedScore = resp.OverallScore
	res.Correct = resp.OverallVerdict == s.Expected
	return res
}

func capSeconds(v, ceiling float64) float64 {
	if v < 0 {
		return 0
	}
	if v > ceiling {
		return ceiling
	}
	return v
}

// Results loads the stored results for one submission in statement
// order of insertion.
func (e *Evaluator) Results(submissionID string) ([]StatementResult, error) {
	var results []StatementResult
	err := e.db.Where("submission_id = ?", submissionID).
		Order("id asc").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
