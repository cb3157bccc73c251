package stake

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/atomic"

	"github.com/verity-subnet/verity-pool/config"
)

// Monitor re-checks the stake of every miner still in the competition
// and disqualifies anyone who drops below the requirement. A miner
// admitted with stake must keep that stake for as long as they hold a
// place on the board.
type Monitor struct {
	verifier *Verifier

	// wallets lists who to watch, disqualify acts on a failure.
	wallets    func() ([]string, error)
	disqualify func(wallet string) error
	onChange   func()

	interval time.Duration

	sweeps    atomic.Int64
	lastSweep atomic.Int64
	dropped   atomic.Int64
}

// MonitorStatus is a point-in-time snapshot for the status endpoint.
type MonitorStatus struct {
	Sweeps        int64 `json:"sweeps"`
	LastSweepUnix int64 `json:"last_sweep"`
	Disqualified  int64 `json:"disqualified"`
}

func NewMonitor(conf *viper.Viper, verifier *Verifier, wallets func() ([]string, error), disqualify func(string) error) *Monitor {
	m := new(Monitor)
	m.verifier = verifier
	m.wallets = wallets
	m.disqualify = disqualify
	m.interval = conf.GetDuration(config.ConfigStakeRecheck)
	return m
}

// OnChange registers a callback fired after any sweep that disqualified
// at least one miner. Used to refresh the leaderboard.
func (m *Monitor) OnChange(f func()) {
	m.onChange = f
}

func (m *Monitor) Status() MonitorStatus {
	return MonitorStatus{
		Sweeps:        m.sweeps.Load(),
		LastSweepUnix: m.lastSweep.Load(),
		Disqualified:  m.dropped.Load(),
	}
}

// Run sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.Sweep(ctx)
	}
}

// Sweep runs one re-check pass over every active wallet.
func (m *Monitor) Sweep(ctx context.Context) {
	wallets, err := m.wallets()
	if err != nil {
		sLog.WithError(err).Error("failed to list active wallets")
		return
	}

	var dropped int
	for _, wallet := range wallets {
		if ctx.Err() != nil {
			return
		}
		// Sweeps always go to the chain, never the intake cache.
		m.verifier.Forget(wallet)
		res, err := m.verifier.Check(ctx, wallet)
		if err != nil {
			// The chain not answering is not evidence of a stake drop.
			sLog.WithError(err).WithField("wallet", wallet).Warn("stake re-check failed")
			continue
		}
		if res.Eligible {
			continue
		}

		if err := m.disqualify(wallet); err != nil {
			sLog.WithError(err).WithField("wallet", wallet).Error("failed to disqualify")
			continue
		}
		dropped++
		sLog.WithFields(log.Fields{
			"wallet":  wallet,
			"balance": res.Balance.String(),
			"held":    res.HeldFor.String(),
		}).Warn("miner lost stake eligibility")
	}

	m.sweeps.Inc()
	m.lastSweep.Store(time.Now().Unix())
	if dropped > 0 {
		m.dropped.Add(int64(dropped))
		if m.onChange != nil {
			m.onChange()
		}
	}
}
