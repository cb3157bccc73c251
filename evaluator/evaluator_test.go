package evaluator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/verity-subnet/verity-pool/evaluator"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/verity-subnet/verity-pool/agent"
	"github.com/verity-subnet/verity-pool/config"
)

type scriptedAgent struct {
	// verdicts maps statement id to the verdict to answer with.
	verdicts map[string]agent.Verdict
	// hang lists statement ids that never answer inside the deadline.
	hang map[string]bool
	// garble lists statement ids answered with a contract violation.
	garble map[string]bool
	// reported is the self-reported processing time per answer.
	reported float64
}

func (s *scriptedAgent) Verify(ctx context.Context, req agent.VerifyRequest) (*agent.VerifyResponse, error) {
	if s.hang[req.StatementID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.garble[req.StatementID] {
		return nil, fmt.Errorf("unrecognized verdict %q", "perhaps")
	}
	return &agent.VerifyResponse{
		StatementID:    req.StatementID,
		OverallScore:   0.8,
		OverallVerdict: s.verdicts[req.StatementID],
		Reasoning:      "scripted",
		Evidence:       []agent.EvidenceItem{{SourceURL: "https://example.com"}},
		ResponseMetadata: agent.ResponseMetadata{
			ProcessingTimeSeconds: s.reported,
		},
	}, nil
}

func testEvaluator(t *testing.T, statements []Statement) (*Evaluator, *gorm.DB) {
	require := require.New(t)

	db, err := gorm.Open("sqlite3", ":memory:")
	require.NoError(err)

	conf := viper.New()
	config.SetDefaults(conf)
	conf.Set(config.ConfigEvaluationParallelism, 2)

	e, err := New(conf, db, statements)
	require.NoError(err)
	return e, db
}

func statementSet(n int) []Statement {
	statements := make([]Statement, n)
	for i := range statements {
		statements[i] = Statement{
			ID:             fmt.Sprintf("s-%d", i),
			Text:           fmt.Sprintf("statement number %d", i),
			Expected:       agent.VerdictCorroborates,
			TimeoutSeconds: 300,
		}
	}
	return statements
}

func TestEvaluator_Evaluate(t *testing.T) {
	require := require.New(t)

	statements := statementSet(4)
	statements[1].Expected = agent.VerdictRefutes
	e, db := testEvaluator(t, statements)
	defer db.Close()

	client := &scriptedAgent{
		verdicts: map[string]agent.Verdict{
			"s-0": agent.VerdictCorroborates, // correct
			"s-1": agent.VerdictCorroborates, // wrong, expected refutes
			"s-2": agent.VerdictCorroborates, // correct
			"s-3": agent.VerdictCorroborates,
		},
		garble:   map[string]bool{"s-3": true},
		reported: 2.5,
	}

	results, err := e.Evaluate(context.Background(), "sub-1", client)
	require.NoError(err)
	require.Len(results, 4)

	require.True(results[0].Correct)
	require.Equal(2.5, results[0].ProcessingSeconds)
	require.Empty(results[0].FailureReason)

	// A wrong verdict is incorrect but not a failure
	require.False(results[1].Correct)
	require.Empty(results[1].FailureReason)
	require.Equal(agent.VerdictCorroborates, results[1].ReturnedVerdict)

	require.True(results[2].Correct)

	// Malformed answers score incorrect without aborting the run
	require.False(results[3].Correct)
	require.Equal(FailureMalformed, results[3].FailureReason)

	// Results are durable
	stored, err := e.Results("sub-1")
	require.NoError(err)
	require.Len(stored, 4)
}

func TestEvaluator_Timeout(t *testing.T) {
	require := require.New(t)

	statements := statementSet(2)
	statements[1].TimeoutSeconds = 1
	e, db := testEvaluator(t, statements)
	defer db.Close()

	client := &scriptedAgent{
		verdicts: map[string]agent.Verdict{"s-0": agent.VerdictCorroborates},
		hang:     map[string]bool{"s-1": true},
		reported: 1.5,
	}

	results, err := e.Evaluate(context.Background(), "sub-1", client)
	require.NoError(err)

	require.True(results[0].Correct)

	// The timed-out statement is incorrect at exactly the ceiling
	require.False(results[1].Correct)
	require.Equal(FailureTimeout, results[1].FailureReason)
	require.Equal(float64(1), results[1].ProcessingSeconds)
}

func TestEvaluator_ReportedTimeCapped(t *testing.T) {
	require := require.New(t)

	statements := statementSet(1)
	e, db := testEvaluator(t, statements)
	defer db.Close()

	// An agent cannot talk its own clock past the ceiling
	client := &scriptedAgent{
		verdicts: map[string]agent.Verdict{"s-0": agent.VerdictCorroborates},
		reported: 9000,
	}

	results, err := e.Evaluate(context.Background(), "sub-1", client)
	require.NoError(err)
	require.Equal(float64(300), results[0].ProcessingSeconds)
}

func TestLoadStatements(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "statements-")
	require.NoError(err)
	defer os.RemoveAll(dir)

	write := func(statements []Statement) string {
		b, err := json.Marshal(statements)
		require.NoError(err)
		path := filepath.Join(dir, "statements.json")
		require.NoError(ioutil.WriteFile(path, b, 0600))
		return path
	}

	good := statementSet(config.StatementCount)
	good[0].TimeoutSeconds = 0 // exercise the default

	loaded, err := LoadStatements(write(good))
	require.NoError(err)
	require.Len(loaded, config.StatementCount)
	require.Equal(int(config.DefaultStatementTimeout/time.Second), loaded[0].TimeoutSeconds)

	// Wrong count
	_, err = LoadStatements(write(statementSet(5)))
	require.Error(err)

	// Duplicate id
	dup := statementSet(config.StatementCount)
	dup[1].ID = dup[0].ID
	_, err = LoadStatements(write(dup))
	require.Error(err)

	// Bad ground truth
	bad := statementSet(config.StatementCount)
	bad[3].Expected = "uncertain"
	_, err = LoadStatements(write(bad))
	require.Error(err)
}
