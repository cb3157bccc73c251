package evaluator

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/verity-subnet/verity-pool/agent"
	"github.com/verity-subnet/verity-pool/config"
)

// Statement is one hidden evaluation item with its ground truth. The
// expected verdict never leaves the harness.
type Statement struct {
	ID             string        `json:"statement_id"`
	Text           string        `json:"statement"`
	Expected       agent.Verdict `json:"expected_verdict"`
	TimeoutSeconds int           `json:"timeout_seconds"`
}

// LoadStatements reads the hidden set from disk and lints it: exactly
// the competition's statement count, unique ids, recognized expected
// verdicts. A missing timeout falls back to the default ceiling.
func LoadStatements(path string) ([]Statement, error) {
	body, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read statement set: %v", err)
	}

	var statements []Statement
	if err := json.Unmarshal(body, &statements); err != nil {
		return nil, fmt.Errorf("parse statement set: %v", err)
	}

	if len(statements) != config.StatementCount {
		return nil, fmt.Errorf("statement set has %d items, want exactly %d",
			len(statements), config.StatementCount)
	}

	seen := make(map[string]bool)
	for i := range statements {
		s := &statements[i]
		if s.ID == "" || s.Text == "" {
			return nil, fmt.Errorf("statement %d is missing an id or text", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate statement id %q", s.ID)
		}
		seen[s.ID] = true
		if !s.Expected.Valid() {
			return nil, fmt.Errorf("statement %q has unrecognized expected verdict %q", s.ID, s.Expected)
		}
		if s.TimeoutSeconds <= 0 {
			s.TimeoutSeconds = int(config.DefaultStatementTimeout.Seconds())
		}
	}

	return statements, nil
}
