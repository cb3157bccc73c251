package stake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/config"
)

var sLog = log.WithField("mod", "stake")

// Source is anything that can report a wallet's stake position.
type Source interface {
	Stake(ctx context.Context, wallet string) (Status, error)
}

// Result is the outcome of an eligibility check. Balance and HeldFor
// are filled even when the wallet is ineligible so the caller can say
// why.
type Result struct {
	Eligible bool
	Balance  decimal.Decimal
	HeldFor  time.Duration
}

type cacheEntry struct {
	result Result
	at     time.Time
}

// Verifier applies the competition's eligibility rule: at least the
// minimum stake, held for at least the hold duration. Chain answers
// are cached for a short window so a burst of intake requests does
// not hammer chaind.
type Verifier struct {
	source  Source
	minimum decimal.Decimal
	hold    time.Duration
	window  time.Duration

	mtx   sync.Mutex
	cache map[string]cacheEntry
}

func NewVerifier(conf *viper.Viper, source Source) (*Verifier, error) {
	v := new(Verifier)
	v.source = source

	minimum, err := decimal.NewFromString(conf.GetString(config.ConfigStakeMinimum))
	if err != nil {
		return nil, fmt.Errorf("bad minimum stake: %v", err)
	}
	v.minimum = minimum
	v.hold = conf.GetDuration(config.ConfigStakeHoldDuration)
	v.window = conf.GetDuration(config.ConfigStakeCacheWindow)
	v.cache = make(map[string]cacheEntry)

	return v, nil
}

// Check reports whether the wallet currently satisfies the stake rule.
// An error means the chain could not answer, which is not the same as
// ineligible.
func (v *Verifier) Check(ctx context.Context, wallet string) (Result, error) {
	now := time.Now().UTC()

	v.mtx.Lock()
	if e, ok := v.cache[wallet]; ok && now.Sub(e.at) < v.window {
		v.mtx.Unlock()
		return e.result, nil
	}
	v.mtx.Unlock()

	status, err := v.source.Stake(ctx, wallet)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Balance: status.Balance,
		HeldFor: status.Held(now),
	}
	res.Eligible = status.Balance.Cmp(v.minimum) >= 0 && res.HeldFor >= v.hold

	v.mtx.Lock()
	v.cache[wallet] = cacheEntry{result: res, at: now}
	v.mtx.Unlock()

	if !res.Eligible {
		sLog.WithFields(log.Fields{
			"wallet":  wallet,
			"balance": status.Balance.String(),
			"held":    res.HeldFor.String(),
		}).Debug("wallet below stake requirement")
	}
	return res, nil
}

// Forget drops a wallet's cached answer so the next Check goes to the
// chain.
func (v *Verifier) Forget(wallet string) {
	v.mtx.Lock()
	delete(v.cache, wallet)
	v.mtx.Unlock()
}

// Minimum is the configured stake floor.
func (v *Verifier) Minimum() decimal.Decimal {
	return v.minimum
}
