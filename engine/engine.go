package engine

import (
	"context"
	"errors"
	"time"

	"github.com/jinzhu/gorm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/agent"
	"github.com/verity-subnet/verity-pool/config"
	"github.com/verity-subnet/verity-pool/database"
	"github.com/verity-subnet/verity-pool/evaluator"
	"github.com/verity-subnet/verity-pool/exit"
	"github.com/verity-subnet/verity-pool/gist"
	"github.com/verity-subnet/verity-pool/registry"
	"github.com/verity-subnet/verity-pool/sandbox"
	"github.com/verity-subnet/verity-pool/scoring"
	"github.com/verity-subnet/verity-pool/stake"
	"github.com/verity-subnet/verity-pool/validator"
)

var (
	engLog = log.WithField("mod", "eng")
)

// Narrow views of the modules the pipeline drives. The concrete
// modules satisfy these; tests swap in scripted ones.
type stakeChecker interface {
	Check(ctx context.Context, wallet string) (stake.Result, error)
}

type bundleFetcher interface {
	Fetch(ctx context.Context, gistURL string) (*gist.Bundle, error)
}

type boxFactory interface {
	Acquire(ctx context.Context, id string) (sandbox.Sandbox, error)
}

type codeChecker interface {
	Validate(ctx context.Context, box sandbox.Sandbox, bundle *gist.Bundle) error
}

type agentRunner interface {
	Evaluate(ctx context.Context, submissionID string, client evaluator.Verifier) ([]evaluator.StatementResult, error)
}

// PoolEngine owns every module and runs the submission pipeline:
// intake -> fetch -> validate -> evaluate -> score, with a worker pool
// pulling accepted submissions off a queue.
type PoolEngine struct {
	conf *viper.Viper

	Database      *database.SqlDatabase
	Registry      *registry.Registry
	StakeClient   *stake.Client
	StakeVerifier *stake.Verifier
	StakeMonitor  *stake.Monitor
	Fetcher       *gist.Fetcher
	Sandboxes     *sandbox.Factory
	Validator     *validator.CodeValidator
	Evaluator     *evaluator.Evaluator
	Board         *scoring.Board

	stakes  stakeChecker
	fetcher bundleFetcher
	boxes   boxFactory
	checker codeChecker
	runner  agentRunner

	queue   chan string
	workers int
}

// Sets up all the module connections and serves as an overview with
// access to all modules.
func Setup(conf *viper.Viper) (*PoolEngine, error) {
	e := new(PoolEngine)
	e.conf = conf

	// Init modules
	err := e.init()
	if err != nil {
		return nil, err
	}

	// Link modules
	err = e.link()
	if err != nil {
		return nil, err
	}

	return e, nil
}

// init calls the 'New' on all the modules to initialize them with
// their configurations
func (e *PoolEngine) init() error {
	db, err := database.New(e.conf)
	if err != nil {
		return err
	}

	reg, err := registry.New(e.conf, db.DB)
	if err != nil {
		return err
	}

	stakeClient := stake.NewClient(e.conf)
	stakeVerifier, err := stake.NewVerifier(e.conf, stakeClient)
	if err != nil {
		return err
	}

	statements, err := evaluator.LoadStatements(e.conf.GetString(config.ConfigEvaluationStatementFile))
	if err != nil {
		return err
	}
	ev, err := evaluator.New(e.conf, db.DB, statements)
	if err != nil {
		return err
	}

	e.Database = db
	e.Registry = reg
	e.StakeClient = stakeClient
	e.StakeVerifier = stakeVerifier
	e.StakeMonitor = stake.NewMonitor(e.conf, stakeVerifier, reg.ActiveWallets, reg.Disqualify)
	e.Fetcher = gist.NewFetcher(e.conf)
	e.Sandboxes = sandbox.NewFactory(e.conf)
	e.Validator = validator.New(e.conf)
	e.Evaluator = ev
	e.Board = scoring.NewBoard(e.tuples)

	e.workers = e.conf.GetInt(config.ConfigPipelineWorkers)
	if e.workers <= 0 {
		e.workers = 1
	}
	e.queue = make(chan string, e.workers*16)

	// Add all closes
	exit.GlobalExitHandler.AddExit(e.Database.Close)

	return nil
}

func (e *PoolEngine) link() error {
	e.stakes = e.StakeVerifier
	e.fetcher = e.Fetcher
	e.boxes = e.Sandboxes
	e.checker = e.Validator
	e.runner = e.Evaluator

	// A lost stake changes standings immediately
	e.StakeMonitor.OnChange(func() {
		_ = e.Board.Refresh()
	})

	return nil
}

// Run starts the stake monitor and the pipeline workers, requeues
// anything a previous run left open, and blocks until the context
// ends.
func (e *PoolEngine) Run(ctx context.Context) {
	go e.StakeMonitor.Run(ctx)

	ids, err := e.Registry.RecoverOpen()
	if err != nil {
		engLog.WithError(err).Error("failed to recover open submissions")
	}
	for _, id := range ids {
		e.enqueue(id)
	}

	_ = e.Board.Refresh()

	for i := 0; i < e.workers; i++ {
		go e.worker(ctx)
	}

	<-ctx.Done()
}

func (e *PoolEngine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.queue:
			queueDepth.Dec()
			e.process(ctx, id)
		}
	}
}

func (e *PoolEngine) enqueue(id string) {
	select {
	case e.queue <- id:
		queueDepth.Inc()
	default:
		// Full queue means the pool is badly oversubscribed. The
		// submission stays pending and is picked up on restart.
		engLog.WithField("submission", id).Error("pipeline queue full")
	}
}

// NewSubmission is the intake entry point. The stake gate runs first,
// then the registry's admission rules. An ineligible wallet still gets
// a recorded, immediately rejected submission for the audit trail.
func (e *PoolEngine) NewSubmission(ctx context.Context, wallet, hotkey, coldkey, gistURL string) (*registry.Submission, error) {
	res, err := e.stakes.Check(ctx, wallet)
	if err != nil {
		return nil, err
	}

	sub, err := e.Registry.Submit(wallet, hotkey, coldkey, gistURL)
	if err != nil {
		return nil, err
	}
	submissionsAccepted.Inc()

	if !res.Eligible {
		if err := e.Registry.Reject(sub.ID, registry.StatusPending, registry.ReasonStakeIneligible); err != nil {
			return nil, err
		}
		submissionsRejected.WithLabelValues(registry.ReasonStakeIneligible).Inc()
		sub.Status = registry.StatusRejected
		sub.RejectionReason = registry.ReasonStakeIneligible
		return sub, nil
	}

	e.enqueue(sub.ID)
	return sub, nil
}

// process walks one submission through fetch, validation, evaluation
// and scoring. Rejections are recorded with their reason; a cancelled
// context leaves the submission for the recovery pass.
func (e *PoolEngine) process(ctx context.Context, id string) {
	pLog := engLog.WithField("submission", id)

	sub, err := e.Registry.Submission(id)
	if err != nil {
		pLog.WithError(err).Error("failed to load submission")
		return
	}
	if sub.Status != registry.StatusPending {
		pLog.WithField("status", sub.Status).Debug("skipping non-pending submission")
		return
	}

	if err := e.Registry.SetStatus(id, registry.StatusPending, registry.StatusValidating); err != nil {
		pLog.WithError(err).Error("failed to claim submission")
		return
	}

	bundle, err := e.fetcher.Fetch(ctx, sub.GistURL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.reject(id, fetchReason(err), pLog)
		return
	}
	if err := e.Registry.SetContentHash(id, bundle.Hash()); err != nil {
		pLog.WithError(err).Error("failed to record content hash")
	}

	box, err := e.boxes.Acquire(ctx, id)
	if err != nil {
		return
	}
	defer func() {
		if err := box.Stop(); err != nil {
			pLog.WithError(err).Warn("sandbox teardown failed")
		}
	}()

	start := time.Now()
	if err := e.checker.Validate(ctx, box, bundle); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.reject(id, validationReason(err), pLog)
		return
	}
	if err := e.Registry.SetStatus(id, registry.StatusValidating, registry.StatusValidated); err != nil {
		pLog.WithError(err).Error("lost submission after validation")
		return
	}

	if err := e.Registry.SetStatus(id, registry.StatusValidated, registry.StatusEvaluating); err != nil {
		pLog.WithError(err).Error("lost submission before evaluation")
		return
	}

	client := agent.NewClient(e.conf, box)
	if _, err := e.runner.Evaluate(ctx, id, client); err != nil {
		pLog.WithError(err).Error("evaluation aborted")
		return
	}

	if err := e.Registry.SetStatus(id, registry.StatusEvaluating, registry.StatusScored); err != nil {
		pLog.WithError(err).Error("lost submission after evaluation")
		return
	}
	submissionsScored.Inc()
	evaluationSeconds.Observe(time.Since(start).Seconds())

	if err := e.Board.Refresh(); err == nil {
		pLog.Info("submission scored")
	}
}

func (e *PoolEngine) reject(id, reason string, pLog *log.Entry) {
	if err := e.Registry.Reject(id, registry.StatusValidating, reason); err != nil {
		pLog.WithError(err).Error("failed to record rejection")
		return
	}
	submissionsRejected.WithLabelValues(reason).Inc()
}

func fetchReason(err error) string {
	switch {
	case errors.Is(err, gist.ErrNotFound):
		return registry.ReasonFetchNotFound
	case errors.Is(err, gist.ErrIncompleteBundle):
		return registry.ReasonIncompleteBundle
	default:
		return registry.ReasonFetchTimeout
	}
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, validator.ErrBuild):
		return registry.ReasonBuildError
	case errors.Is(err, validator.ErrStartup):
		return registry.ReasonStartupError
	case errors.Is(err, validator.ErrTimeout):
		return registry.ReasonValidationTimeout
	default:
		return registry.ReasonSchemaError
	}
}

// tuples recomputes every rankable miner's standing from the stored
// statement results.
func (e *PoolEngine) tuples() ([]scoring.ScoreTuple, error) {
	miners, err := e.Registry.RankableMiners()
	if err != nil {
		return nil, err
	}

	var tuples []scoring.ScoreTuple
	for _, m := range miners {
		sub, err := e.Registry.ScoringSubmission(m.Wallet)
		if err != nil {
			if gorm.IsRecordNotFoundError(err) {
				continue
			}
			return nil, err
		}
		results, err := e.Evaluator.Results(sub.ID)
		if err != nil {
			return nil, err
		}
		first := time.Time{}
		if m.FirstSubmissionAt != nil {
			first = *m.FirstSubmissionAt
		}
		tuples = append(tuples, scoring.Aggregate(m.Wallet, sub.ID, first, results))
	}
	return tuples, nil
}

// PoolStatus is a point-in-time snapshot for the status API.
type PoolStatus struct {
	QueueDepth    int                 `json:"queue_depth"`
	FreeSandboxes int                 `json:"free_sandboxes"`
	Statements    int                 `json:"statements"`
	Stake         stake.MonitorStatus `json:"stake_monitor"`
	BoardUpdated  time.Time           `json:"board_updated"`
}

func (e *PoolEngine) Status() PoolStatus {
	_, updated := e.Board.Entries()
	return PoolStatus{
		QueueDepth:    len(e.queue),
		FreeSandboxes: e.Sandboxes.Free(),
		Statements:    e.Evaluator.Statements(),
		Stake:         e.StakeMonitor.Status(),
		BoardUpdated:  updated,
	}
}
