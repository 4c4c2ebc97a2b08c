// Package audit writes one durable JSON artifact per decision,
// including denials, keyed by (requested_at, request_id).
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/common-fate/boundary/pkg/policy"
	"github.com/common-fate/boundary/pkg/request"
)

const SchemaVersion = "1.0"

const artifactPerm = 0644

type Artifact struct {
	SchemaVersion  string            `json:"schema_version"`
	Timestamp      string            `json:"timestamp"`
	CorrelationID  string            `json:"correlation_id"`
	EngineMetadata EngineMetadata    `json:"engine_metadata"`
	Request        *request.Request  `json:"request"`
	Result         policy.Evaluation `json:"result"`
}

type EngineMetadata struct {
	Version        string `json:"version"`
	PolicyHash     string `json:"policy_hash"`
	RulesProcessed int    `json:"rules_processed"`
}

// Writer persists artifacts under a directory; the default is
// audit-logs in the working directory.
type Writer struct {
	Dir string
}

// Write stores the decision record and returns the artifact path.
func (w Writer) Write(req *request.Request, eval policy.Evaluation) (string, error) {
	dir := w.Dir
	if dir == "" {
		dir = "audit-logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating audit directory: %w", err)
	}

	artifact := Artifact{
		SchemaVersion: SchemaVersion,
		Timestamp:     eval.EvaluatedAt,
		CorrelationID: req.ID,
		EngineMetadata: EngineMetadata{
			Version:        eval.EngineVersion,
			PolicyHash:     eval.PolicyHash,
			RulesProcessed: eval.RulesProcessed,
		},
		Request: req,
		Result:  eval,
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding audit artifact: %w", err)
	}

	path := filepath.Join(dir, Key(req))
	if err := os.WriteFile(path, data, artifactPerm); err != nil {
		return "", fmt.Errorf("writing audit artifact: %w", err)
	}
	return path, nil
}

// Key derives the artifact filename from the request so repeated
// decisions for the same request overwrite rather than accumulate.
func Key(req *request.Request) string {
	return fmt.Sprintf("%d_%s.json", req.RequestedAt, req.ID)
}
