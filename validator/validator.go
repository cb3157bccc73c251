package validator

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/agent"
	"github.com/verity-subnet/verity-pool/config"
	"github.com/verity-subnet/verity-pool/gist"
	"github.com/verity-subnet/verity-pool/sandbox"
)

var vLog = log.WithField("mod", "validator")

var (
	// ErrBuild means the bundle's image did not build.
	ErrBuild = errors.New("agent image build failed")

	// ErrStartup means the container started but the agent never
	// reported healthy inside the startup window.
	ErrStartup = errors.New("agent failed to become healthy")

	// ErrTimeout means the smoke request did not come back in time.
	ErrTimeout = errors.New("agent smoke test timed out")

	// ErrSchema means the smoke answer violated the response contract.
	ErrSchema = errors.New("agent response violates the contract")
)

// startupProbes splits the startup window into a fixed probe count.
const startupProbes = 30

// smokeStatement is a benign fixed statement every agent must be able
// to answer in contract shape. Correctness is not judged here.
var smokeStatement = agent.VerifyRequest{
	Statement:      "Water boils at 100 degrees Celsius at standard atmospheric pressure.",
	StatementID:    "smoke-0",
	TimeoutSeconds: 300,
}

// CodeValidator takes a fetched bundle through build, boot and one
// smoke request inside a sandbox the caller owns. On success the
// sandbox is left running for the evaluator to reuse.
type CodeValidator struct {
	conf           *viper.Viper
	startupTimeout time.Duration
	smokeTimeout   time.Duration
}

func New(conf *viper.Viper) *CodeValidator {
	v := new(CodeValidator)
	v.conf = conf
	v.startupTimeout = conf.GetDuration(config.ConfigValidationStartupTimeout)
	v.smokeTimeout = conf.GetDuration(config.ConfigValidationSmokeTimeout)
	return v
}

// Validate stages the bundle, builds and starts the agent and runs the
// smoke request. The returned error wraps ErrBuild, ErrStartup,
// ErrTimeout or ErrSchema so the caller can classify the rejection.
// The caller stops the sandbox on any error.
func (v *CodeValidator) Validate(ctx context.Context, box sandbox.Sandbox, bundle *gist.Bundle) error {
	dir, err := v.stage(bundle)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := box.Build(ctx, dir); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if err := box.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}

	client := agent.NewClient(v.conf, box)
	if err := v.waitHealthy(ctx, client); err != nil {
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}

	if err := v.smoke(ctx, client); err != nil {
		return err
	}

	vLog.WithField("gist", bundle.ID).Debug("bundle validated")
	return nil
}

// stage writes the bundle files into a fresh build directory.
func (v *CodeValidator) stage(bundle *gist.Bundle) (string, error) {
	dir, err := ioutil.TempDir("", "verity-bundle-")
	if err != nil {
		return "", err
	}
	for name, content := range bundle.Files {
		if err := ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

func (v *CodeValidator) waitHealthy(ctx context.Context, client *agent.Client) error {
	interval := v.startupTimeout / startupProbes
	if interval <= 0 {
		interval = time.Second
	}

	b := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(interval), startupProbes), ctx)

	return backoff.Retry(func() error {
		return client.Health(ctx)
	}, b)
}

func (v *CodeValidator) smoke(ctx context.Context, client *agent.Client) error {
	ctx, cancel := context.WithTimeout(ctx, v.smokeTimeout)
	defer cancel()

	_, err := client.Verify(ctx, smokeStatement)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %s", ErrTimeout, v.smokeTimeout)
		}
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
