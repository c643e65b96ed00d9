// Package metadata holds the read-only catalog of operation kinds: declared
// input and output slots, option schemas, and behavior flags. The registry
// is populated once at startup and shared by reference with the compiler,
// the graph manager, and the orchestrator; it is never mutated afterwards.
package metadata

import (
	"fmt"
	"sort"
)

// DataType classifies the values flowing through an input or output slot.
type DataType string

const (
	Decimal   DataType = "decimal"
	Integer   DataType = "integer"
	Number    DataType = "number"
	Boolean   DataType = "boolean"
	String    DataType = "string"
	Timestamp DataType = "timestamp"
	Any       DataType = "any"
)

// Category buckets operation kinds by role. Scalar, Reporter, Executor and
// EventMarker drive special handling in the compiler and orchestrator.
type Category string

const (
	CategoryScalar      Category = "scalar"
	CategoryDataSource  Category = "data_source"
	CategoryMath        Category = "math"
	CategoryTrend       Category = "trend"
	CategoryMomentum    Category = "momentum"
	CategoryControlFlow Category = "control_flow"
	CategoryFactor      Category = "factor"
	CategoryUtility     Category = "utility"
	CategoryReporter    Category = "reporter"
	CategoryExecutor    Category = "executor"
	CategoryEventMarker Category = "event_marker"
)

// IOSpec declares one input or output slot.
type IOSpec struct {
	ID            string
	Name          string
	Type          DataType
	Required      bool
	AllowMultiple bool
}

// OptionType classifies option values.
type OptionType string

const (
	OptionNumber  OptionType = "number"
	OptionString  OptionType = "string"
	OptionBoolean OptionType = "boolean"
	OptionSelect  OptionType = "select"
	OptionSchema  OptionType = "schema"
)

// OptionSpec declares one option with its validation rule.
type OptionSpec struct {
	ID           string
	Type         OptionType
	Required     bool
	SelectValues []string // valid values when Type is OptionSelect
	Min, Max     *float64 // bounds when Type is OptionNumber
}

// Meta is the immutable record describing one operation kind.
type Meta struct {
	ID       string
	Name     string
	Category Category
	Desc     string
	Tags     []string

	Options []OptionSpec
	Inputs  []IOSpec
	Outputs []IOSpec

	IsCrossSectional        bool
	AtLeastOneInputRequired bool
	RequiresTimeFrame       bool
	IntradayOnly            bool
	AllowNullInputs         bool

	// InternalUse marks compiler-inserted kinds (casts, aliases) that users
	// cannot call directly.
	InternalUse bool

	// RequiredDataSources may contain placeholders such as {ticker} or
	// {category}, expanded from node options at build time.
	RequiredDataSources []string
}

// IsScalar reports whether the kind is scalar-category: its output does not
// vary by time or asset row, so it is timeframe- and session-agnostic.
func (m *Meta) IsScalar() bool { return m.Category == CategoryScalar }

// IsSink reports whether the kind is terminal: it produces no outputs that
// other nodes can consume (reports, executors, event markers).
func (m *Meta) IsSink() bool { return len(m.Outputs) == 0 }

// Option returns the spec for the named option.
func (m *Meta) Option(id string) (OptionSpec, bool) {
	for _, opt := range m.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return OptionSpec{}, false
}

// Input returns the spec for the named input slot.
func (m *Meta) Input(id string) (IOSpec, bool) {
	for _, in := range m.Inputs {
		if in.ID == id {
			return in, true
		}
	}
	return IOSpec{}, false
}

// Output returns the spec for the named output slot.
func (m *Meta) Output(id string) (IOSpec, bool) {
	for _, out := range m.Outputs {
		if out.ID == id {
			return out, true
		}
	}
	return IOSpec{}, false
}

// Registry is the immutable operation-kind catalog.
type Registry struct {
	byID map[string]*Meta
}

// NewRegistry builds a registry from the given records. Duplicate ids are
// rejected; after construction the registry is read-only.
func NewRegistry(records []*Meta) (*Registry, error) {
	byID := make(map[string]*Meta, len(records))
	for _, m := range records {
		if m.ID == "" {
			return nil, fmt.Errorf("operation metadata with empty id")
		}
		if _, exists := byID[m.ID]; exists {
			return nil, fmt.Errorf("duplicate operation metadata id %q", m.ID)
		}
		byID[m.ID] = m
	}
	return &Registry{byID: byID}, nil
}

// Lookup returns the record for the given operation type.
func (r *Registry) Lookup(id string) (*Meta, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// IDs returns the registered type ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int { return len(r.byID) }
