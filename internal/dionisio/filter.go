package dionisio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// EventFilter decides with a jq query if an event is processed.
// The query is run on the JSON webhook payload and must evaluate to a
// single boolean.
type EventFilter struct {
	query *gojq.Query
}

func NewEventFilter(jqQuery string) (*EventFilter, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing event filter query failed: %w", err)
	}

	return &EventFilter{query: query}, nil
}

func (f *EventFilter) String() string {
	return f.query.String()
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errs []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errs
		}

		if err, isErr := res.(error); isErr {
			errs = append(errs, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		fmt.Fprintf(&result, "error %d: %s", i, err)
	}

	return result.String()
}

// Match returns true if the query evaluates to true for the JSON
// document payload.
func (f *EventFilter) Match(ctx context.Context, payload []byte) (bool, error) {
	var evUn any

	if len(payload) == 0 {
		return false, errors.New("payload is empty")
	}

	if err := json.Unmarshal(payload, &evUn); err != nil {
		return false, fmt.Errorf("unmarshaling json failed: %w", err)
	}

	result, errs := goJQIterToSlice(f.query.RunWithContext(ctx, evUn))
	if len(errs) != 0 {
		return false, fmt.Errorf("json query returned errors, query: %q, errors: %s", f.query.String(), errString(errs))
	}

	if len(result) != 1 {
		return false, fmt.Errorf("json query returned %d results, expected 1, query: %q", len(result), f.query.String())
	}

	val, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf("json query returned a %T, expected a bool, query: %q", result[0], f.query.String())
	}

	return val, nil
}
