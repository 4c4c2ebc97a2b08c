package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadError is fatal: the engine never starts with an incomplete or
// malformed policy.
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("loading policy: %s: %s", e.Reason, e.Err)
	}
	return "loading policy: " + e.Reason
}

func (e *LoadError) Unwrap() error { return e.Err }

var (
	placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	// Matches organization root IDs (r-...) and organizational unit IDs
	// (ou-<root suffix>-<unique>).
	ouIDPattern = regexp.MustCompile(`^(r-[0-9a-z]{4,32}|ou-[0-9a-z]{4,32}-[0-9a-z]{8,32})$`)
)

// Load reads, expands and parses the policy document at path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Reason: fmt.Sprintf("reading %s", path), Err: err}
	}
	return Parse(raw)
}

// Parse expands ${VAR} placeholders from the process environment,
// validates them, parses the document and computes its content hash.
// The hash covers the expanded text so the audit trail records actual
// IDs rather than placeholder names.
func Parse(raw []byte) (*Document, error) {
	expanded, err := expandPlaceholders(string(raw))
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, &LoadError{Reason: "unparseable document", Err: err}
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(expanded))
	doc.Hash = hex.EncodeToString(sum[:])
	return &doc, nil
}

func expandPlaceholders(raw string) (string, error) {
	var expandErr error
	expanded := placeholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			if expandErr == nil {
				expandErr = &LoadError{Reason: fmt.Sprintf("environment variable %s is not set", name)}
			}
			return match
		}
		// Placeholders named after OU IDs must expand to a well-formed
		// organization root or OU ID.
		if strings.Contains(name, "OU_ID") && !ouIDPattern.MatchString(value) {
			if expandErr == nil {
				expandErr = &LoadError{Reason: fmt.Sprintf("environment variable %s is not a valid OU or root ID: %q", name, value)}
			}
			return match
		}
		return value
	})
	if expandErr != nil {
		return "", expandErr
	}
	return expanded, nil
}
