package qa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

const (
	DefaultManifestPath = "package.json"
	DefaultVersionQuery = ".version"
)

// ManifestParser extracts the version from a JSON manifest file via a jq
// query.
type ManifestParser struct {
	path  string
	query *gojq.Query
}

// NewManifestParser returns a parser for the manifest at path.
// versionQuery must evaluate to a single string for the manifest.
func NewManifestParser(path, versionQuery string) (*ManifestParser, error) {
	query, err := gojq.Parse(versionQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing version query failed: %w", err)
	}

	return &ManifestParser{path: path, query: query}, nil
}

// Path returns the path of the manifest file in the repository.
func (p *ManifestParser) Path() string {
	return p.path
}

// Version returns the version declared in the manifest.
func (p *ManifestParser) Version(ctx context.Context, manifest []byte) (string, error) {
	var doc any

	if err := json.Unmarshal(manifest, &doc); err != nil {
		return "", fmt.Errorf("unmarshaling %s failed: %w", p.path, err)
	}

	var results []any
	var errs []error

	iter := p.query.RunWithContext(ctx, doc)
	for {
		res, ok := iter.Next()
		if !ok {
			break
		}

		if err, isErr := res.(error); isErr {
			errs = append(errs, err)
			continue
		}

		results = append(results, res)
	}

	if len(errs) != 0 {
		return "", fmt.Errorf("version query %q failed: %w", p.query.String(), errors.Join(errs...))
	}

	if len(results) != 1 {
		return "", fmt.Errorf("version query %q returned %d results, expected 1", p.query.String(), len(results))
	}

	version, ok := results[0].(string)
	if !ok || strings.TrimSpace(version) == "" {
		return "", fmt.Errorf("version query %q returned %v, expected a non-empty string", p.query.String(), results[0])
	}

	return version, nil
}
