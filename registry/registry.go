package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/config"
	"github.com/verity-subnet/verity-pool/database"
)

var (
	regLog = log.WithField("mod", "registry")
)

var (
	// ErrSubmissionActive means the miner already has a submission
	// moving through the pipeline. Exactly one non-terminal submission
	// per miner is the central invariant here.
	ErrSubmissionActive = errors.New("submission already active")

	// ErrMinerDisqualified means the miner failed a stake re-check and
	// is out of the competition for good.
	ErrMinerDisqualified = errors.New("miner is disqualified")
)

// CooldownError carries the exact timestamp at which a refused miner
// may try again.
type CooldownError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown not expired, resubmission opens at %s", e.Until.UTC().Format(time.RFC3339))
}

// Miner is one competition participant, keyed by wallet address. The
// harness never writes stake amounts here, only identity and the
// competition flags it owns.
type Miner struct {
	database.Model
	Wallet  string `gorm:"unique_index" json:"wallet"`
	Hotkey  string `json:"hotkey"`
	Coldkey string `json:"coldkey,omitempty"`

	// FirstSubmissionAt is set on the first ever accepted submission
	// and never overwritten. It is the final ranking tiebreaker.
	FirstSubmissionAt *time.Time `json:"first_submission_at,omitempty"`

	Disqualified   bool       `json:"disqualified"`
	DisqualifiedAt *time.Time `json:"disqualified_at,omitempty"`
}

// Submission is one accepted intake record. Immutable once terminal.
type Submission struct {
	ID          string    `gorm:"primary_key" json:"submission_id"`
	Wallet      string    `gorm:"index:wallet" json:"wallet"`
	GistURL     string    `json:"gist_url"`
	ContentHash string    `json:"content_hash,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`

	Status          Status `json:"status"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	// CooldownUntil is SubmittedAt + the cooldown window, fixed at
	// accept time whether this attempt later scores or rejects.
	CooldownUntil time.Time `json:"cooldown_until"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Registry is the durable store of submissions plus the per-miner
// cooldown gate. All state transitions for one miner are serialized
// through a per-wallet lock, so two racing submissions can never both
// reach pending.
type Registry struct {
	db       *gorm.DB
	cooldown time.Duration

	mtx        sync.Mutex
	minerLocks map[string]*sync.Mutex
}

func New(conf *viper.Viper, db *gorm.DB) (*Registry, error) {
	r := new(Registry)
	r.db = db
	r.cooldown = conf.GetDuration(config.ConfigSubmissionCooldown)
	if r.cooldown <= 0 {
		return nil, fmt.Errorf("submission cooldown must be positive")
	}
	r.minerLocks = make(map[string]*sync.Mutex)

	r.db.AutoMigrate(&Miner{})
	r.db.AutoMigrate(&Submission{})

	return r, nil
}

func (r *Registry) lockFor(wallet string) *sync.Mutex {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	l, ok := r.minerLocks[wallet]
	if !ok {
		l = new(sync.Mutex)
		r.minerLocks[wallet] = l
	}
	return l
}

// Cooldown is the configured inter-submission spacing.
func (r *Registry) Cooldown() time.Duration {
	return r.cooldown
}

// Submit admits a new submission for a miner, or refuses it with
// ErrSubmissionActive, ErrMinerDisqualified or a CooldownError. The
// record is created in pending; the caller owns moving it forward.
func (r *Registry) Submit(wallet, hotkey, coldkey, gistURL string) (*Submission, error) {
	lock := r.lockFor(wallet)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()

	var miner Miner
	dbErr := r.db.Where("wallet = ?", wallet).First(&miner)
	if dbErr.Error != nil && !gorm.IsRecordNotFoundError(dbErr.Error) {
		return nil, dbErr.Error
	}
	known := dbErr.Error == nil
	if known && miner.Disqualified {
		return nil, ErrMinerDisqualified
	}

	var last Submission
	lastErr := r.db.Where("wallet = ?", wallet).Order("submitted_at desc").First(&last)
	if lastErr.Error == nil {
		if !last.Status.Terminal() {
			return nil, ErrSubmissionActive
		}
		// Cooldown runs from the prior submitted-at, accepted and
		// rejected attempts alike.
		if until := last.SubmittedAt.Add(r.cooldown); now.Before(until) {
			return nil, &CooldownError{Until: until, Remaining: until.Sub(now)}
		}
	} else if !gorm.IsRecordNotFoundError(lastErr.Error) {
		return nil, lastErr.Error
	}

	sub := &Submission{
		ID:            uuid.New().String(),
		Wallet:        wallet,
		GistURL:       gistURL,
		SubmittedAt:   now,
		Status:        StatusPending,
		CooldownUntil: now.Add(r.cooldown),
	}

	tx := r.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	if !known {
		miner = Miner{Wallet: wallet, Hotkey: hotkey, Coldkey: coldkey, FirstSubmissionAt: &now}
		if err := tx.Create(&miner).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	} else if miner.FirstSubmissionAt == nil {
		err := tx.Model(&Miner{}).
			Where("wallet = ? AND first_submission_at IS NULL", wallet).
			Update("first_submission_at", now).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Create(sub).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	regLog.WithFields(log.Fields{"wallet": wallet, "submission": sub.ID}).Info("submission accepted")
	return sub, nil
}

// SetStatus performs a guarded check-and-set transition. The update is
// conditional on the current status so a racing writer loses cleanly.
func (r *Registry) SetStatus(id string, from, to Status) error {
	if !allowedTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	dbErr := r.db.Model(&Submission{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if dbErr.Error != nil {
		return dbErr.Error
	}
	if dbErr.RowsAffected == 0 {
		return fmt.Errorf("submission %s is not %s", id, from)
	}
	return nil
}

// Reject moves a submission to rejected with its machine-readable
// reason. Rejection is terminal; the cooldown recorded at accept time
// keeps running.
func (r *Registry) Reject(id string, from Status, reason string) error {
	if !allowedTransition(from, StatusRejected) {
		return fmt.Errorf("illegal transition %s -> %s", from, StatusRejected)
	}

	dbErr := r.db.Model(&Submission{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{
			"status":           string(StatusRejected),
			"rejection_reason": reason,
		})
	if dbErr.Error != nil {
		return dbErr.Error
	}
	if dbErr.RowsAffected == 0 {
		return fmt.Errorf("submission %s is not %s", id, from)
	}

	regLog.WithFields(log.Fields{"submission": id, "reason": reason}).Info("submission rejected")
	return nil
}

// SetContentHash records the audit hash once the bundle is fetched.
func (r *Registry) SetContentHash(id, hash string) error {
	return r.db.Model(&Submission{}).Where("id = ?", id).
		Update("content_hash", hash).Error
}

// Submission loads a single record by id.
func (r *Registry) Submission(id string) (*Submission, error) {
	var sub Submission
	dbErr := r.db.Where("id = ?", id).First(&sub)
	if dbErr.Error != nil {
		return nil, dbErr.Error
	}
	return &sub, nil
}

// MinerByWallet loads a miner record.
func (r *Registry) MinerByWallet(wallet string) (*Miner, error) {
	var miner Miner
	dbErr := r.db.Where("wallet = ?", wallet).First(&miner)
	if dbErr.Error != nil {
		return nil, dbErr.Error
	}
	return &miner, nil
}

// Disqualify marks the miner and every open or scored submission
// disqualified. Historical statement results stay on disk for audit.
// Idempotent: a second call for the same wallet is a no-op.
func (r *Registry) Disqualify(wallet string) error {
	lock := r.lockFor(wallet)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()

	tx := r.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	dbErr := tx.Model(&Miner{}).
		Where("wallet = ? AND disqualified = ?", wallet, false).
		Updates(map[string]interface{}{
			"disqualified":    true,
			"disqualified_at": now,
		})
	if dbErr.Error != nil {
		tx.Rollback()
		return dbErr.Error
	}
	if dbErr.RowsAffected == 0 {
		// Already disqualified (or unknown wallet). Nothing to redo.
		tx.Rollback()
		return nil
	}

	open := []string{
		string(StatusPending), string(StatusValidating),
		string(StatusValidated), string(StatusEvaluating),
		string(StatusScored),
	}
	err := tx.Model(&Submission{}).
		Where("wallet = ? AND status IN (?)", wallet, open).
		Update("status", string(StatusDisqualified)).Error
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	regLog.WithField("wallet", wallet).Warn("miner disqualified")
	return nil
}

// RecoverOpen resets submissions caught mid-pipeline by a restart back
// to pending and returns every pending id so they can be requeued.
// This bypasses the normal transition rules on purpose: nothing is
// running anymore, so validating or evaluating states are stale.
func (r *Registry) RecoverOpen() ([]string, error) {
	stale := []string{
		string(StatusValidating), string(StatusValidated),
		string(StatusEvaluating),
	}
	dbErr := r.db.Model(&Submission{}).
		Where("status IN (?)", stale).
		Update("status", string(StatusPending))
	if dbErr.Error != nil {
		return nil, dbErr.Error
	}
	if dbErr.RowsAffected > 0 {
		regLog.WithField("reset", dbErr.RowsAffected).Warn("recovered submissions caught mid-pipeline")
	}

	var subs []Submission
	err := r.db.Where("status = ?", string(StatusPending)).
		Order("submitted_at asc").Find(&subs).Error
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	return ids, nil
}

// ScoringSubmission is the miner's designated scoring record: the most
// recent scored, non-disqualified submission.
func (r *Registry) ScoringSubmission(wallet string) (*Submission, error) {
	var sub Submission
	dbErr := r.db.Where("wallet = ? AND status = ?", wallet, string(StatusScored)).
		Order("submitted_at desc").First(&sub)
	if dbErr.Error != nil {
		return nil, dbErr.Error
	}
	return &sub, nil
}

// RankableMiners lists every non-disqualified miner holding at least
// one scored submission.
func (r *Registry) RankableMiners() ([]Miner, error) {
	var miners []Miner
	err := r.db.Where("disqualified = ?", false).Find(&miners).Error
	if err != nil {
		return nil, err
	}

	ranked := miners[:0]
	for _, m := range miners {
		var n int
		err := r.db.Model(&Submission{}).
			Where("wallet = ? AND status = ?", m.Wallet, string(StatusScored)).
			Count(&n).Error
		if err != nil {
			return nil, err
		}
		if n > 0 {
			ranked = append(ranked, m)
		}
	}
	return ranked, nil
}

// ActiveWallets lists wallets the stake monitor must keep re-checking:
// anyone not disqualified with an open or scored submission.
func (r *Registry) ActiveWallets() ([]string, error) {
	watch := []string{
		string(StatusPending), string(StatusValidating),
		string(StatusValidated), string(StatusEvaluating),
		string(StatusScored),
	}

	var subs []Submission
	err := r.db.Select("DISTINCT(wallet)").
		Where("status IN (?)", watch).Find(&subs).Error
	if err != nil {
		return nil, err
	}

	var wallets []string
	for _, s := range subs {
		miner, err := r.MinerByWallet(s.Wallet)
		if err != nil {
			if gorm.IsRecordNotFoundError(err) {
				continue
			}
			return nil, err
		}
		if !miner.Disqualified {
			wallets = append(wallets, s.Wallet)
		}
	}
	return wallets, nil
}

// CooldownRemaining reports how long until the wallet may submit
// again. Zero means the gate is open.
func (r *Registry) CooldownRemaining(wallet string, now time.Time) (time.Duration, error) {
	var last Submission
	dbErr := r.db.Where("wallet = ?", wallet).Order("submitted_at desc").First(&last)
	if dbErr.Error != nil {
		if gorm.IsRecordNotFoundError(dbErr.Error) {
			return 0, nil
		}
		return 0, dbErr.Error
	}

	until := last.SubmittedAt.Add(r.cooldown)
	if now.Before(until) {
		return until.Sub(now), nil
	}
	return 0, nil
}
