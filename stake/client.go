package stake

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/config"
)

// Default values for ChainExponentialBackOff.
const (
	DefaultInitialInterval     = 800 * time.Millisecond
	DefaultRandomizationFactor = 0.5
	DefaultMultiplier          = 1.5
	DefaultMaxInterval         = 3 * time.Second
	DefaultMaxElapsedTime      = 10 * time.Second
)

// ChainExponentialBackOff creates an instance of ExponentialBackOff
// tuned for chaind queries.
func ChainExponentialBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     DefaultInitialInterval,
		RandomizationFactor: DefaultRandomizationFactor,
		Multiplier:          DefaultMultiplier,
		MaxInterval:         DefaultMaxInterval,
		MaxElapsedTime:      DefaultMaxElapsedTime,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Status is one wallet's stake position as reported by the chain.
type Status struct {
	Wallet    string
	Balance   decimal.Decimal
	HeldSince time.Time
}

// Held reports how long the stake has been in place as of now.
func (s Status) Held(now time.Time) time.Duration {
	if s.HeldSince.IsZero() {
		return 0
	}
	return now.Sub(s.HeldSince)
}

// Client talks to the chain daemon's HTTP API for stake lookups.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(conf *viper.Viper) *Client {
	c := new(Client)
	c.url = strings.TrimRight(conf.GetString(config.ConfigChainLocation), "/")
	c.http = &http.Client{Timeout: DefaultMaxInterval}
	return c
}

type chainStakeResponse struct {
	Wallet    string `json:"wallet"`
	Stake     string `json:"stake"`
	HeldSince int64  `json:"held_since"`
	Error     string `json:"error,omitempty"`
}

// Stake queries the chain for a wallet's stake. Transient failures are
// retried with an exponential backoff; an unknown wallet comes back as
// a zero balance, not an error.
func (c *Client) Stake(ctx context.Context, wallet string) (Status, error) {
	var chainResp chainStakeResponse

	operation := func() error {
		req, err := http.NewRequest("GET", fmt.Sprintf("%s/stake/%s", c.url, wallet), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req = req.WithContext(ctx)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			chainResp = chainStakeResponse{Wallet: wallet, Stake: "0"}
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("chaind returned %d", resp.StatusCode)
		}

		if body, err := ioutil.ReadAll(resp.Body); err != nil {
			return err
		} else if err = json.Unmarshal(body, &chainResp); err != nil {
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(ChainExponentialBackOff(), ctx)); err != nil {
		return Status{}, err
	}
	if chainResp.Error != "" {
		return Status{}, fmt.Errorf("chaind: %s", chainResp.Error)
	}

	balance, err := decimal.NewFromString(chainResp.Stake)
	if err != nil {
		return Status{}, fmt.Errorf("bad stake amount %q: %v", chainResp.Stake, err)
	}

	status := Status{Wallet: wallet, Balance: balance}
	if chainResp.HeldSince > 0 {
		status.HeldSince = time.Unix(chainResp.HeldSince, 0).UTC()
	}
	return status, nil
}
