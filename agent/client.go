package agent

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/ratelimit"

	"github.com/verity-subnet/verity-pool/config"
)

// Caller is the transport under the client. A sandbox satisfies this.
type Caller interface {
	Call(ctx context.Context, path string, in, out interface{}) error
}

// Client speaks the agent HTTP contract over a sandbox, pacing its
// requests so an agent is never flooded past the configured rate.
type Client struct {
	caller  Caller
	limiter ratelimit.Limiter
}

func NewClient(conf *viper.Viper, caller Caller) *Client {
	c := new(Client)
	c.caller = caller
	if rate := conf.GetInt(config.ConfigEvaluationRequestRate); rate > 0 {
		c.limiter = ratelimit.New(rate)
	} else {
		c.limiter = ratelimit.NewUnlimited()
	}
	return c
}

// Health probes the agent's health endpoint. The agent is ready when
// it answers 200 with a healthy status.
func (c *Client) Health(ctx context.Context) error {
	var hr healthResponse
	if err := c.caller.Call(ctx, "/health", nil, &hr); err != nil {
		return err
	}
	if hr.Status != "healthy" {
		return fmt.Errorf("agent reports status %q", hr.Status)
	}
	return nil
}

// Verify submits one statement and validates the answer against the
// contract before returning it.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	c.limiter.Take()

	var resp VerifyResponse
	if err := c.caller.Call(ctx, "/verify", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Validate(req.StatementID); err != nil {
		return nil, err
	}
	return &resp, nil
}
