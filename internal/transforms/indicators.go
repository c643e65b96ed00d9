package transforms

import (
	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/table"
)

func periodOption(v *graph.ValidatedNode) int {
	val, ok := v.Node.Options["period"]
	if !ok {
		return 1
	}
	f, _ := val.AsBigFloat().Float64()
	if f < 1 {
		return 1
	}
	return int(f)
}

// smaTransform is a simple moving average with a leading null warm-up.
type smaTransform struct {
	period int
}

func (t *smaTransform) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(a))
	s := table.NewFloatSeries(out)
	var sum float64
	for i := range a {
		sum += a[i]
		if i >= t.period {
			sum -= a[i-t.period]
		}
		if i < t.period-1 {
			s.SetNull(i)
			continue
		}
		out[i] = sum / float64(t.period)
	}
	carryValidity(s, sa)
	return singleOutput(input, s)
}

// emaTransform is an exponential moving average seeded with the first
// value.
type emaTransform struct {
	period int
}

func (t *emaTransform) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(a))
	s := table.NewFloatSeries(out)
	alpha := 2.0 / float64(t.period+1)
	for i := range a {
		if i == 0 {
			out[i] = a[i]
			continue
		}
		out[i] = alpha*a[i] + (1-alpha)*out[i-1]
	}
	for i := 0; i < t.period-1 && i < len(a); i++ {
		s.SetNull(i)
	}
	carryValidity(s, sa)
	return singleOutput(input, s)
}

// lagTransform shifts a column back by period rows.
type lagTransform struct {
	period int
}

func (t *lagTransform) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(a))
	s := table.NewFloatSeries(out)
	for i := range a {
		if i < t.period {
			s.SetNull(i)
			continue
		}
		out[i] = a[i-t.period]
	}
	carryValidity(s, sa)
	return singleOutput(input, s)
}

// rsiTransform is Wilder's relative strength index.
type rsiTransform struct {
	period int
}

func (t *rsiTransform) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(a))
	s := table.NewFloatSeries(out)
	var avgGain, avgLoss float64
	for i := range a {
		if i == 0 {
			s.SetNull(i)
			continue
		}
		change := a[i] - a[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if i <= t.period {
			avgGain += gain / float64(t.period)
			avgLoss += loss / float64(t.period)
		} else {
			avgGain = (avgGain*float64(t.period-1) + gain) / float64(t.period)
			avgLoss = (avgLoss*float64(t.period-1) + loss) / float64(t.period)
		}
		if i < t.period {
			s.SetNull(i)
			continue
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	carryValidity(s, sa)
	return singleOutput(input, s)
}

// crossoverTransform is true on rows where arg0 crosses above arg1.
type crossoverTransform struct{}

func (crossoverTransform) TransformData(input *table.Table) (*table.Table, error) {
	a, sa, err := floatColumn(input, metadata.Arg0)
	if err != nil {
		return nil, err
	}
	b, sb, err := floatColumn(input, metadata.Arg1)
	if err != nil {
		return nil, err
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]bool, n)
	for i := 1; i < n; i++ {
		out[i] = a[i-1] <= b[i-1] && a[i] > b[i]
	}
	s := table.NewBoolSeries(out)
	carryValidity(s, sa, sb)
	return singleOutput(input, s)
}

func indicatorBuilders() map[string]Builder {
	windowed := func(build func(period int) Transform) Builder {
		return func(v *graph.ValidatedNode) (Transform, error) {
			return build(periodOption(v)), nil
		}
	}
	return map[string]Builder{
		"sma": windowed(func(p int) Transform { return &smaTransform{period: p} }),
		"ema": windowed(func(p int) Transform { return &emaTransform{period: p} }),
		"lag": windowed(func(p int) Transform { return &lagTransform{period: p} }),
		"rsi": windowed(func(p int) Transform { return &rsiTransform{period: p} }),
		"crossover": func(*graph.ValidatedNode) (Transform, error) {
			return crossoverTransform{}, nil
		},
	}
}
