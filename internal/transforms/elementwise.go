package transforms

import (
	"fmt"
	"math"

	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/table"
)

// binaryCompare applies a float predicate element-wise over arg0 and arg1.
type binaryCompare struct {
	pred func(a, b float64) bool
}

func (t *binaryCompare) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg0)
	if err != nil {
		return nil, err
	}
	b, sb, err := floatColumn(input, metadata.Arg1)
	if err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("input length mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]bool, len(a))
	for i := range a {
		out[i] = t.pred(a[i], b[i])
	}
	s := table.NewBoolSeries(out)
	carryValidity(s, sa, sb)
	return singleOutput(input, s)
}

// binaryArith applies a float operator element-wise over arg0 and arg1.
type binaryArith struct {
	op func(a, b float64) float64
}

func (t *binaryArith) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg0)
	if err != nil {
		return nil, err
	}
	b, sb, err := floatColumn(input, metadata.Arg1)
	if err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("input length mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]float64, len(a))
	s := table.NewFloatSeries(out)
	for i := range a {
		out[i] = t.op(a[i], b[i])
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			s.SetNull(i)
		}
	}
	carryValidity(s, sa, sb)
	return singleOutput(input, s)
}

// binaryLogic applies a boolean operator element-wise over arg0 and arg1.
type binaryLogic struct {
	op func(a, b bool) bool
}

func (t *binaryLogic) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := boolColumn(input, metadata.Arg0)
	if err != nil {
		return nil, err
	}
	b, sb, err := boolColumn(input, metadata.Arg1)
	if err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("input length mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]bool, len(a))
	for i := range a {
		out[i] = t.op(a[i], b[i])
	}
	s := table.NewBoolSeries(out)
	carryValidity(s, sa, sb)
	return singleOutput(input, s)
}

// unaryFloat applies a float operator element-wise over arg.
type unaryFloat struct {
	op func(a float64) float64
}

func (t *unaryFloat) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = t.op(a[i])
	}
	s := table.NewFloatSeries(out)
	carryValidity(s, sa)
	return singleOutput(input, s)
}

// notTransform inverts a boolean column.
type notTransform struct{}

func (notTransform) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := boolColumn(input, metadata.Arg)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(a))
	for i := range a {
		out[i] = !a[i]
	}
	s := table.NewBoolSeries(out)
	carryValidity(s, sa)
	return singleOutput(input, s)
}

// castBoolean maps a numeric column to booleans: non-zero is true.
type castBoolean struct{}

func (castBoolean) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] != 0
	}
	s := table.NewBoolSeries(out)
	carryValidity(s, sa)
	return singleOutput(input, s)
}

// castDecimal maps a boolean or numeric column to decimals.
type castDecimal struct{}

func (castDecimal) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(a))
	copy(out, a)
	s := table.NewFloatSeries(out)
	carryValidity(s, sa)
	return singleOutput(input, s)
}

func elementwiseBuilders() map[string]Builder {
	compare := func(pred func(a, b float64) bool) Builder {
		return func(*graph.ValidatedNode) (Transform, error) {
			return &binaryCompare{pred: pred}, nil
		}
	}
	arith := func(op func(a, b float64) float64) Builder {
		return func(*graph.ValidatedNode) (Transform, error) {
			return &binaryArith{op: op}, nil
		}
	}
	logic := func(op func(a, b bool) bool) Builder {
		return func(*graph.ValidatedNode) (Transform, error) {
			return &binaryLogic{op: op}, nil
		}
	}
	return map[string]Builder{
		"gt":  compare(func(a, b float64) bool { return a > b }),
		"lt":  compare(func(a, b float64) bool { return a < b }),
		"gte": compare(func(a, b float64) bool { return a >= b }),
		"lte": compare(func(a, b float64) bool { return a <= b }),
		"eq":  compare(func(a, b float64) bool { return a == b }),
		"neq": compare(func(a, b float64) bool { return a != b }),

		"add":      arith(func(a, b float64) float64 { return a + b }),
		"subtract": arith(func(a, b float64) float64 { return a - b }),
		"multiply": arith(func(a, b float64) float64 { return a * b }),
		"divide": arith(func(a, b float64) float64 {
			if b == 0 {
				return math.NaN()
			}
			return a / b
		}),
		"negate": func(*graph.ValidatedNode) (Transform, error) {
			return &unaryFloat{op: func(a float64) float64 { return -a }}, nil
		},

		"logical_and": logic(func(a, b bool) bool { return a && b }),
		"logical_or":  logic(func(a, b bool) bool { return a || b }),
		"logical_not": func(*graph.ValidatedNode) (Transform, error) {
			return notTransform{}, nil
		},

		metadata.StaticCastBooleanID: func(*graph.ValidatedNode) (Transform, error) {
			return castBoolean{}, nil
		},
		metadata.StaticCastDecimalID: func(*graph.ValidatedNode) (Transform, error) {
			return castDecimal{}, nil
		},
	}
}
