package compiler

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/node"
)

// validate runs the final pre-optimizer checks over the resolved node list:
// required options, required inputs, at-least-one-input kinds, and session
// well-formedness.
func validate(nodes []*node.Node, registry *metadata.Registry) error {
	for _, n := range nodes {
		meta, ok := registry.Lookup(n.Type)
		if !ok {
			return errf(ErrUnknownOperationType, n.ID, n.Type, "",
				"operation type %q is not registered", n.Type)
		}

		for _, opt := range meta.Options {
			if !opt.Required {
				continue
			}
			if _, set := n.Options[opt.ID]; !set {
				return errf(ErrMissingRequiredOption, n.ID, n.Type, opt.ID,
					"%s requires option %q", n.Type, opt.ID)
			}
		}

		for _, in := range meta.Inputs {
			if !in.Required {
				continue
			}
			if len(n.Inputs[in.ID]) == 0 {
				return errf(ErrMissingRequiredInput, n.ID, n.Type, in.ID,
					"%s requires input %q", n.Type, in.ID)
			}
		}

		if meta.AtLeastOneInputRequired && n.WiredInputCount() == 0 {
			return errf(ErrMissingRequiredInput, n.ID, n.Type, "",
				"%s requires at least one wired input", n.Type)
		}

		if n.Session != nil {
			if err := n.Session.Validate(); err != nil {
				return errf(ErrInvalidSessionRange, n.ID, n.Type, optSession, "%s", err)
			}
		}
	}
	return nil
}

// checkOption validates a single option value against its spec.
func checkOption(spec metadata.OptionSpec, v cty.Value) error {
	if v.IsNull() {
		return fmt.Errorf("option %q must not be null", spec.ID)
	}
	switch spec.Type {
	case metadata.OptionNumber:
		if v.Type() != cty.Number {
			return fmt.Errorf("option %q expects a number, got %s", spec.ID, v.Type().FriendlyName())
		}
		f, _ := v.AsBigFloat().Float64()
		if spec.Min != nil && f < *spec.Min {
			return fmt.Errorf("option %q must be >= %v", spec.ID, *spec.Min)
		}
		if spec.Max != nil && f > *spec.Max {
			return fmt.Errorf("option %q must be <= %v", spec.ID, *spec.Max)
		}
	case metadata.OptionString:
		if v.Type() != cty.String {
			return fmt.Errorf("option %q expects a string, got %s", spec.ID, v.Type().FriendlyName())
		}
	case metadata.OptionBoolean:
		if v.Type() != cty.Bool {
			return fmt.Errorf("option %q expects a boolean, got %s", spec.ID, v.Type().FriendlyName())
		}
	case metadata.OptionSelect:
		if v.Type() != cty.String {
			return fmt.Errorf("option %q expects a string, got %s", spec.ID, v.Type().FriendlyName())
		}
		got := v.AsString()
		for _, allowed := range spec.SelectValues {
			if got == allowed {
				return nil
			}
		}
		return fmt.Errorf("option %q must be one of %v, got %q", spec.ID, spec.SelectValues, got)
	case metadata.OptionSchema:
		if !v.Type().IsObjectType() && !v.Type().IsMapType() {
			return fmt.Errorf("option %q expects an object, got %s", spec.ID, v.Type().FriendlyName())
		}
	}
	return nil
}
