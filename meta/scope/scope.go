// Package scope defines the typed experiment scope: the named inputs
// (uncertainties, levers, constants) and outputs (performance measures)
// that bound every tabular dataset the modeling core may consume. Scopes
// are loaded from YAML files with `scope`, `inputs`, and `outputs` top
// level keys.
package scope

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/metamodel-sim/metamodel-sim/meta"
)

// Kind is a parameter's value type.
type Kind string

const (
	Real        Kind = "real"
	Integer     Kind = "int"
	Boolean     Kind = "bool"
	Category    Kind = "cat"
	defaultKind      = Real
)

// PType classifies an input parameter's role in the experiment design.
type PType string

const (
	Uncertainty PType = "uncertainty"
	Lever       PType = "lever"
	Constant    PType = "constant"
)

// MeasureKind is a measure's optimization direction.
type MeasureKind string

const (
	Minimize MeasureKind = "minimize"
	Maximize MeasureKind = "maximize"
	Info     MeasureKind = "info"
)

// Parameter is one named scalar input field.
type Parameter struct {
	Name    string
	PType   PType
	Kind    Kind
	Min     float64
	Max     float64
	Default any
	// Values is the fixed ordered admissible category set (Category kind).
	Values []string
}

// Measure is one named scalar output.
type Measure struct {
	Name string
	// Transform is the metamodel transform spec for this measure
	// ("log", "log1p", "clip(0,100)", ... ; empty = linear).
	Transform string
	Kind      MeasureKind
}

// Scope is the read-only metadata describing a model's legal inputs and
// outputs.
type Scope struct {
	Name       string
	Desc       string
	RandomSeed int64

	uncertainties []Parameter
	levers        []Parameter
	constants     []Parameter
	measures      []Measure
}

type scopeFile struct {
	Scope struct {
		Name string `yaml:"name"`
		Desc string `yaml:"desc"`
	} `yaml:"scope"`
	RandomSeed int64 `yaml:"random_seed"`
	// Inputs and Outputs stay raw nodes so declaration order is preserved.
	Inputs  yaml.Node `yaml:"inputs"`
	Outputs yaml.Node `yaml:"outputs"`
}

// mappingPairs walks a yaml mapping node in document order.
func mappingPairs(section string, node yaml.Node, visit func(key string, value *yaml.Node) error) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%s must be a mapping of (name: attributes) pairs", section)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := visit(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

type inputAttr struct {
	PType   string   `yaml:"ptype"`
	Dtype   string   `yaml:"dtype"`
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	Default any      `yaml:"default"`
	Values  []string `yaml:"values"`
}

type outputAttr struct {
	Metamodeltype string `yaml:"metamodeltype"`
	Kind          string `yaml:"kind"`
}

// Load reads and validates a scope YAML file.
func Load(path string) (*Scope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scope: reading %s: %w", path, err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("scope: %s: %w", path, err)
	}
	return s, nil
}

// Parse validates scope YAML content.
func Parse(raw []byte) (*Scope, error) {
	var f scopeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("malformed yaml: %w", err)
	}
	if f.Scope.Name == "" {
		return nil, fmt.Errorf(`scope file must include "scope" with a "name"`)
	}
	if f.Inputs.Kind == 0 {
		return nil, fmt.Errorf(`scope file must include "inputs" as a top level key`)
	}
	if f.Outputs.Kind == 0 {
		return nil, fmt.Errorf(`scope file must include "outputs" as a top level key`)
	}

	s := &Scope{
		Name:       f.Scope.Name,
		Desc:       f.Scope.Desc,
		RandomSeed: f.RandomSeed,
	}
	if s.RandomSeed == 0 {
		s.RandomSeed = 1234
	}

	err := mappingPairs("inputs", f.Inputs, func(name string, node *yaml.Node) error {
		var attr inputAttr
		if err := node.Decode(&attr); err != nil {
			return fmt.Errorf("inputs:%s: %w", name, err)
		}
		p, err := makeParameter(name, attr)
		if err != nil {
			return err
		}
		switch p.PType {
		case Uncertainty:
			s.uncertainties = append(s.uncertainties, p)
		case Lever:
			s.levers = append(s.levers, p)
		case Constant:
			s.constants = append(s.constants, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = mappingPairs("outputs", f.Outputs, func(name string, node *yaml.Node) error {
		var attr outputAttr
		if err := node.Decode(&attr); err != nil {
			return fmt.Errorf("outputs:%s: %w", name, err)
		}
		m := Measure{Name: name, Transform: attr.Metamodeltype, Kind: MeasureKind(attr.Kind)}
		if m.Kind == "" {
			m.Kind = Info
		}
		switch m.Kind {
		case Minimize, Maximize, Info:
		default:
			return fmt.Errorf("outputs:%s has invalid kind %q", name, attr.Kind)
		}
		s.measures = append(s.measures, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func makeParameter(name string, attr inputAttr) (Parameter, error) {
	p := Parameter{Name: name, Default: attr.Default}

	switch strings.ToLower(attr.PType) {
	case "uncertainty", "exogenous uncertainty":
		p.PType = Uncertainty
	case "lever", "policy lever":
		p.PType = Lever
	case "constant", "fixed":
		p.PType = Constant
	case "":
		return p, fmt.Errorf("inputs:%s is missing ptype, must be uncertainty, lever, or constant", name)
	default:
		return p, fmt.Errorf("inputs:%s has invalid ptype %q", name, attr.PType)
	}

	switch strings.ToLower(attr.Dtype) {
	case "real", "float", "":
		p.Kind = Real
	case "int", "integer":
		p.Kind = Integer
	case "bool", "boolean":
		p.Kind = Boolean
	case "cat", "categorical":
		p.Kind = Category
	default:
		return p, fmt.Errorf("inputs:%s has invalid dtype %q", name, attr.Dtype)
	}

	if p.Kind == Category {
		if len(attr.Values) == 0 {
			return p, fmt.Errorf("inputs:%s is categorical but declares no values", name)
		}
		p.Values = attr.Values
	} else {
		p.Min, p.Max = math.Inf(-1), math.Inf(1)
		if attr.Min != nil {
			p.Min = *attr.Min
		}
		if attr.Max != nil {
			p.Max = *attr.Max
		}
		if p.Min > p.Max {
			return p, fmt.Errorf("inputs:%s has min %g above max %g", name, p.Min, p.Max)
		}
	}
	return p, nil
}

// Parameters returns all input parameters: uncertainties, then levers,
// then constants.
func (s *Scope) Parameters() []Parameter {
	out := make([]Parameter, 0, len(s.uncertainties)+len(s.levers)+len(s.constants))
	out = append(out, s.uncertainties...)
	out = append(out, s.levers...)
	out = append(out, s.constants...)
	return out
}

// Uncertainties returns the uncertainty parameters.
func (s *Scope) Uncertainties() []Parameter { return append([]Parameter(nil), s.uncertainties...) }

// Levers returns the lever parameters.
func (s *Scope) Levers() []Parameter { return append([]Parameter(nil), s.levers...) }

// Constants returns the constant parameters.
func (s *Scope) Constants() []Parameter { return append([]Parameter(nil), s.constants...) }

// Measures returns the output measures.
func (s *Scope) Measures() []Measure { return append([]Measure(nil), s.measures...) }

// ParameterNames returns every input parameter name.
func (s *Scope) ParameterNames() []string {
	ps := s.Parameters()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

// MeasureNames returns every output measure name.
func (s *Scope) MeasureNames() []string {
	out := make([]string, len(s.measures))
	for i, m := range s.measures {
		out[i] = m.Name
	}
	return out
}

// Parameter looks up an input parameter by name.
func (s *Scope) Parameter(name string) (Parameter, bool) {
	for _, p := range s.Parameters() {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// TransformSpecs returns the measure-name to transform-spec mapping
// consumed by surrogate construction.
func (s *Scope) TransformSpecs() map[string]string {
	out := make(map[string]string, len(s.measures))
	for _, m := range s.measures {
		out[m.Name] = m.Transform
	}
	return out
}

// CategoricalValues returns the admissible category sets of every
// categorical parameter, keyed by parameter name.
func (s *Scope) CategoricalValues() map[string][]string {
	out := map[string][]string{}
	for _, p := range s.Parameters() {
		if p.Kind == Category {
			out[p.Name] = append([]string(nil), p.Values...)
		}
	}
	return out
}

// EnsureKinds coerces a table's columns to their declared kinds: integer
// parameters are rounded, boolean columns are canonicalized to 0/1, and
// categorical values are checked against the admissible set. Columns not
// declared in the scope pass through untouched.
func (s *Scope) EnsureKinds(t *meta.Table) error {
	for _, p := range s.Parameters() {
		if !t.Has(p.Name) {
			continue
		}
		switch p.Kind {
		case Integer:
			vals, err := t.Numeric(p.Name)
			if err != nil {
				return fmt.Errorf("scope: %s: %w", p.Name, err)
			}
			for i, v := range vals {
				vals[i] = math.Round(v)
			}
		case Boolean:
			vals, err := t.Numeric(p.Name)
			if err != nil {
				return fmt.Errorf("scope: %s: %w", p.Name, err)
			}
			for i, v := range vals {
				if v != 0 {
					vals[i] = 1
				}
			}
		case Category:
			col, err := t.Column(p.Name)
			if err != nil {
				return err
			}
			if col.Kind != meta.Categorical {
				return fmt.Errorf("scope: %s is categorical but the column is numeric", p.Name)
			}
			admissible := map[string]bool{}
			for _, v := range p.Values {
				admissible[v] = true
			}
			for _, v := range col.Strings {
				if !admissible[v] {
					return fmt.Errorf("scope: %s has inadmissible category %q", p.Name, v)
				}
			}
		}
	}
	return nil
}
