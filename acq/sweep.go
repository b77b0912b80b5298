package acq

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nasa-jpl/labsweep/util"
)

// Kind is the parameter varied by a sweep dimension
type Kind string

const (
	// Wavelength sweeps the center wavelength of the source, nm
	Wavelength Kind = "wavelength"

	// Defocus sweeps the focus offset from the pre-sweep position, um
	Defocus Kind = "defocus"

	// Medium sweeps the liquid in the flowcell; values are pump ports
	Medium Kind = "medium"
)

// Kinds is every sweep kind, in metadata order
var Kinds = []Kind{Wavelength, Defocus, Medium}

// ParseKind converts a string to a Kind, case insensitive
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", s)}
}

// Dimension is one swept parameter and the ordered values it takes
type Dimension struct {
	Kind   Kind      `json:"kind"`
	Values []float64 `json:"values"`
}

// Range summarizes the values of a dimension
type Range struct {
	Start  float64 `yaml:"Start" json:"start"`
	Stop   float64 `yaml:"Stop" json:"stop"`
	Number int     `yaml:"Number" json:"number"`
}

// Range returns the first and last value and the number of values
func (d Dimension) Range() Range {
	if len(d.Values) == 0 {
		return Range{}
	}
	return Range{Start: d.Values[0], Stop: d.Values[len(d.Values)-1], Number: len(d.Values)}
}

// Request is an ordered set of dimensions, outermost first.  The order is the
// nesting order of the loops and the axis order of the dataset.
type Request struct {
	// Name is the base filename for the result, may be empty
	Name string

	Dimensions []Dimension
}

// Validate checks that every dimension has values, no kind appears twice, and
// media are valid port numbers
func (r Request) Validate() error {
	seen := map[Kind]bool{}
	for i, d := range r.Dimensions {
		field := fmt.Sprintf("dimensions[%d]", i)
		if _, err := ParseKind(string(d.Kind)); err != nil {
			return ValidationError{Field: field, Reason: fmt.Sprintf("unknown kind %q", d.Kind)}
		}
		if seen[d.Kind] {
			return ValidationError{Field: field, Reason: fmt.Sprintf("%s given more than once", d.Kind)}
		}
		seen[d.Kind] = true
		if len(d.Values) == 0 {
			return ValidationError{Field: field, Reason: "no values"}
		}
		for _, v := range d.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ValidationError{Field: field, Reason: "values must be finite"}
			}
			if d.Kind == Medium && (v != math.Trunc(v) || v < 1) {
				return ValidationError{Field: field, Reason: fmt.Sprintf("medium %v is not a port number", v)}
			}
		}
	}
	return nil
}

// Shape returns the number of values of each dimension, outermost first
func (r Request) Shape() []int {
	s := make([]int, len(r.Dimensions))
	for i, d := range r.Dimensions {
		s[i] = len(d.Values)
	}
	return s
}

// Points is the number of sweep points, the product of Shape
func (r Request) Points() int {
	return util.Product(r.Shape())
}

// Dimension returns the dimension of a kind, if the request has one
func (r Request) Dimension(k Kind) (Dimension, bool) {
	for _, d := range r.Dimensions {
		if d.Kind == k {
			return d, true
		}
	}
	return Dimension{}, false
}

// DimensionSpec is the wire form of a dimension, either explicit values or a
// linearly spaced range
type DimensionSpec struct {
	Kind   string    `json:"kind"`
	Values []float64 `json:"values,omitempty"`
	Start  *float64  `json:"start,omitempty"`
	Stop   *float64  `json:"stop,omitempty"`
	Count  int       `json:"count,omitempty"`
}

// Dimension expands s into explicit values
func (s DimensionSpec) Dimension() (Dimension, error) {
	k, err := ParseKind(s.Kind)
	if err != nil {
		return Dimension{}, err
	}
	ranged := s.Start != nil || s.Stop != nil || s.Count != 0
	switch {
	case ranged && len(s.Values) > 0:
		return Dimension{}, ValidationError{Field: string(k), Reason: "give either values or start/stop/count, not both"}
	case ranged:
		if s.Start == nil || s.Stop == nil || s.Count < 1 {
			return Dimension{}, ValidationError{Field: string(k), Reason: "a range needs start, stop and a positive count"}
		}
		return Dimension{Kind: k, Values: util.Linspace(*s.Start, *s.Stop, s.Count)}, nil
	default:
		vals := make([]float64, len(s.Values))
		copy(vals, s.Values)
		return Dimension{Kind: k, Values: vals}, nil
	}
}

// SweepRequest is the wire form of a Request
type SweepRequest struct {
	Name       string          `json:"name"`
	Dimensions []DimensionSpec `json:"dimensions"`
}

// Request expands and validates the wire form
func (s SweepRequest) Request() (Request, error) {
	r := Request{Name: s.Name, Dimensions: make([]Dimension, 0, len(s.Dimensions))}
	for _, ds := range s.Dimensions {
		d, err := ds.Dimension()
		if err != nil {
			return Request{}, err
		}
		r.Dimensions = append(r.Dimensions, d)
	}
	return r, r.Validate()
}

// ParseDimensionArg parses the command line form of a dimension,
// kind=start:stop:count or kind=v1,v2,...
func ParseDimensionArg(arg string) (DimensionSpec, error) {
	pieces := strings.SplitN(arg, "=", 2)
	if len(pieces) != 2 || pieces[1] == "" {
		return DimensionSpec{}, ValidationError{Field: "dimension", Reason: fmt.Sprintf("%q is not kind=start:stop:count or kind=v1,v2", arg)}
	}
	ds := DimensionSpec{Kind: pieces[0]}
	if strings.Contains(pieces[1], ":") {
		parts := strings.Split(pieces[1], ":")
		if len(parts) != 3 {
			return DimensionSpec{}, ValidationError{Field: "dimension", Reason: fmt.Sprintf("%q: a range is start:stop:count", arg)}
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return DimensionSpec{}, fmt.Errorf("acq: parsing start of %q: %w", arg, err)
		}
		stop, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return DimensionSpec{}, fmt.Errorf("acq: parsing stop of %q: %w", arg, err)
		}
		count, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return DimensionSpec{}, fmt.Errorf("acq: parsing count of %q: %w", arg, err)
		}
		ds.Start, ds.Stop, ds.Count = &start, &stop, count
		return ds, nil
	}
	vals, err := util.CSVToFloats(pieces[1])
	if err != nil {
		return DimensionSpec{}, fmt.Errorf("acq: parsing values of %q: %w", arg, err)
	}
	ds.Values = vals
	return ds, nil
}
