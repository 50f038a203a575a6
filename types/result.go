package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ResultStatus marks a per-unit broadcast outcome as success or failure.
type ResultStatus int

const (
	// StatusOk indicates the unit's handler returned a value.
	StatusOk ResultStatus = iota

	// StatusError indicates the unit's handler failed or had no handler.
	StatusError
)

// Result is the outcome of one unit's participation in a broadcast request.
type Result struct {
	UnitID int          `json:"u"`
	Status ResultStatus `json:"s"`
	Data   any          `json:"d,omitempty"`
	Err    string       `json:"e,omitempty"`
}

// Ok reports whether the result carries a successful value.
func (r Result) Ok() bool {
	return r.Status == StatusOk
}

// ResultCollection is the ordered aggregation of per-unit broadcast results.
//
// Units that never replied before the aggregation deadline are simply absent;
// individual unit failures appear as StatusError entries. A collection never
// represents a call-level failure.
type ResultCollection struct {
	results []Result
}

// NewResultCollection builds a collection ordered by unit ID.
func NewResultCollection(results []Result) ResultCollection {
	ordered := make([]Result, len(results))
	copy(ordered, results)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UnitID < ordered[j].UnitID })

	return ResultCollection{results: ordered}
}

// Results returns all entries ordered by unit ID.
func (c ResultCollection) Results() []Result {
	out := make([]Result, len(c.results))
	copy(out, c.results)

	return out
}

// Len returns the number of entries (successful and failed).
func (c ResultCollection) Len() int {
	return len(c.results)
}

// Values returns the data of all successful entries, ordered by unit ID.
func (c ResultCollection) Values() []any {
	values := make([]any, 0, len(c.results))
	for _, r := range c.results {
		if r.Ok() {
			values = append(values, r.Data)
		}
	}

	return values
}

// Errors returns the failed entries, ordered by unit ID.
func (c ResultCollection) Errors() []Result {
	errs := make([]Result, 0)
	for _, r := range c.results {
		if !r.Ok() {
			errs = append(errs, r)
		}
	}

	return errs
}

// DecodeResults re-shapes a decoded message payload into typed results.
//
// Aggregated collections cross the wire as plain JSON arrays; this restores
// the typed form on the receiving side.
func DecodeResults(v any) ([]Result, error) {
	if results, ok := v.([]Result); ok {
		return results, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	var results []Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("invalid result payload: %w", err)
	}

	return results, nil
}

// AllOk reports whether every entry succeeded.
//
// An empty collection is vacuously ok.
func (c ResultCollection) AllOk() bool {
	for _, r := range c.results {
		if !r.Ok() {
			return false
		}
	}

	return true
}

// OkCount returns the number of successful entries.
func (c ResultCollection) OkCount() int {
	n := 0
	for _, r := range c.results {
		if r.Ok() {
			n++
		}
	}

	return n
}

// Sum returns the numeric sum of all successful numeric values.
//
// Non-numeric successful values contribute nothing. JSON-decoded numbers
// arrive as float64; native ints from in-process seeding are handled too.
func (c ResultCollection) Sum() float64 {
	var sum float64
	for _, r := range c.results {
		if !r.Ok() {
			continue
		}
		switch v := r.Data.(type) {
		case float64:
			sum += v
		case float32:
			sum += float64(v)
		case int:
			sum += float64(v)
		case int32:
			sum += float64(v)
		case int64:
			sum += float64(v)
		case uint:
			sum += float64(v)
		case uint64:
			sum += float64(v)
		}
	}

	return sum
}

// ByUnit returns the entry contributed by the given unit ID.
func (c ResultCollection) ByUnit(unitID int) (Result, bool) {
	for _, r := range c.results {
		if r.UnitID == unitID {
			return r, true
		}
	}

	return Result{}, false
}

// FirstOk returns the first successful value in unit-ID order.
func (c ResultCollection) FirstOk() (any, bool) {
	for _, r := range c.results {
		if r.Ok() {
			return r.Data, true
		}
	}

	return nil, false
}

// First returns the first successful value matching the predicate, in
// unit-ID order.
//
// This is the lookup used for fleet-wide searches where ownership of the
// requested entity is not derivable from its key alone.
func (c ResultCollection) First(match func(any) bool) (any, bool) {
	for _, r := range c.results {
		if r.Ok() && match(r.Data) {
			return r.Data, true
		}
	}

	return nil, false
}
