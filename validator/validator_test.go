package validator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/verity-subnet/verity-pool/validator"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/verity-subnet/verity-pool/config"
	"github.com/verity-subnet/verity-pool/gist"
)

type fakeBox struct {
	buildErr error
	startErr error

	healthAfter int
	healthCalls int

	verifyResp  func(req map[string]interface{}) interface{}
	verifyDelay time.Duration

	builtDir string
	started  bool
	stopped  bool
}

func (f *fakeBox) Build(_ context.Context, dir string) error {
	f.builtDir = dir
	return f.buildErr
}

func (f *fakeBox) Start(_ context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeBox) Stop() error {
	f.stopped = true
	return nil
}

func (f *fakeBox) Call(ctx context.Context, path string, in, out interface{}) error {
	switch path {
	case "/health":
		f.healthCalls++
		if f.healthCalls <= f.healthAfter {
			return fmt.Errorf("connection refused")
		}
		b, _ := json.Marshal(map[string]string{"status": "healthy"})
		return json.Unmarshal(b, out)
	case "/verify":
		if f.verifyDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.verifyDelay):
			}
		}
		reqJSON, _ := json.Marshal(in)
		var req map[string]interface{}
		if err := json.Unmarshal(reqJSON, &req); err != nil {
			return err
		}
		b, _ := json.Marshal(f.verifyResp(req))
		return json.Unmarshal(b, out)
	}
	return fmt.Errorf("unexpected path %s", path)
}

func goodAnswer(req map[string]interface{}) interface{} {
	return map[string]interface{}{
		"statement_id":    req["statement_id"],
		"overall_score":   0.5,
		"overall_verdict": "neutral",
		"reasoning":       "no strong evidence either way",
		"evidence": []map[string]interface{}{{
			"source_url":          "https://example.com",
			"extracted_text":      "text",
			"relevance_score":     0.4,
			"corroboration_score": 0.5,
			"timestamp_retrieved": "2026-08-30T12:00:00Z",
		}},
		"response_metadata": map[string]interface{}{
			"processing_time_seconds": 1.0,
			"search_queries_used":     1,
			"llm_tokens_used":         100,
		},
	}
}

func testValidator() *CodeValidator {
	conf := viper.New()
	config.SetDefaults(conf)
	conf.Set(config.ConfigValidationStartupTimeout, 300*time.Millisecond)
	conf.Set(config.ConfigValidationSmokeTimeout, 100*time.Millisecond)
	conf.Set(config.ConfigEvaluationRequestRate, 0)
	return New(conf)
}

func testBundle() *gist.Bundle {
	return &gist.Bundle{ID: "abc", Files: map[string]string{
		"Dockerfile":       "FROM python:3.11-slim\n",
		"requirements.txt": "fastapi\n",
		"agent.py":         "pass\n",
	}}
}

func TestValidator_Passes(t *testing.T) {
	require := require.New(t)

	box := &fakeBox{healthAfter: 2, verifyResp: goodAnswer}
	err := testValidator().Validate(context.Background(), box, testBundle())
	require.NoError(err)
	require.True(box.started)
	require.NotEmpty(box.builtDir, "bundle must be staged to disk for the build")
}

func TestValidator_BuildError(t *testing.T) {
	require := require.New(t)

	box := &fakeBox{buildErr: fmt.Errorf("bad Dockerfile")}
	err := testValidator().Validate(context.Background(), box, testBundle())
	require.True(errors.Is(err, ErrBuild), "got %v", err)
}

func TestValidator_StartupError(t *testing.T) {
	require := require.New(t)

	box := &fakeBox{startErr: fmt.Errorf("port conflict")}
	err := testValidator().Validate(context.Background(), box, testBundle())
	require.True(errors.Is(err, ErrStartup), "got %v", err)

	// Never healthy inside the window
	box = &fakeBox{healthAfter: 1 << 30, verifyResp: goodAnswer}
	err = testValidator().Validate(context.Background(), box, testBundle())
	require.True(errors.Is(err, ErrStartup), "got %v", err)
}

func TestValidator_SmokeTimeout(t *testing.T) {
	require := require.New(t)

	box := &fakeBox{verifyResp: goodAnswer, verifyDelay: time.Second}
	err := testValidator().Validate(context.Background(), box, testBundle())
	require.True(errors.Is(err, ErrTimeout), "got %v", err)
}

func TestValidator_SchemaError(t *testing.T) {
	require := require.New(t)

	box := &fakeBox{verifyResp: func(req map[string]interface{}) interface{} {
		answer := goodAnswer(req).(map[string]interface{})
		answer["overall_verdict"] = "definitely true"
		return answer
	}}
	err := testValidator().Validate(context.Background(), box, testBundle())
	require.True(errors.Is(err, ErrSchema), "got %v", err)
}
