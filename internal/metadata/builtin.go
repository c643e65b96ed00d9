package metadata

// Well-known operation ids referenced by the compiler and the orchestrator.
const (
	MarketDataSourceID    = "market_data_source"
	TradeSignalExecutorID = "trade_signal_executor"
	AssetRefID            = "asset_ref"
	AssetSelectID         = "asset_select"
	AliasID               = "alias"
	StaticCastBooleanID   = "static_cast_boolean"
	StaticCastDecimalID   = "static_cast_decimal"
)

// Handle names shared across operation kinds.
const (
	Arg    = "arg"
	Arg0   = "arg0"
	Arg1   = "arg1"
	Result = "result"
	Match  = "match"
)

func anyIn(id string) IOSpec {
	return IOSpec{ID: id, Type: Any, Required: true}
}

func decimalIn(id string) IOSpec {
	return IOSpec{ID: id, Type: Decimal, Required: true}
}

func booleanIn(id string) IOSpec {
	return IOSpec{ID: id, Type: Boolean, Required: true}
}

func decimalOut() IOSpec {
	return IOSpec{ID: Result, Type: Decimal, AllowMultiple: true}
}

func booleanOut() IOSpec {
	return IOSpec{ID: Result, Type: Boolean, AllowMultiple: true}
}

func comparison(id, name string) *Meta {
	return &Meta{
		ID: id, Name: name, Category: CategoryControlFlow,
		Inputs:  []IOSpec{anyIn(Arg0), anyIn(Arg1)},
		Outputs: []IOSpec{booleanOut()},
	}
}

func arithmetic(id, name string) *Meta {
	return &Meta{
		ID: id, Name: name, Category: CategoryMath,
		Inputs:  []IOSpec{decimalIn(Arg0), decimalIn(Arg1)},
		Outputs: []IOSpec{decimalOut()},
	}
}

func logical(id, name string) *Meta {
	return &Meta{
		ID: id, Name: name, Category: CategoryControlFlow,
		Inputs:  []IOSpec{booleanIn(Arg0), booleanIn(Arg1)},
		Outputs: []IOSpec{booleanOut()},
	}
}

func windowed(id, name string, category Category) *Meta {
	one := 1.0
	return &Meta{
		ID: id, Name: name, Category: category,
		Options: []OptionSpec{{ID: "period", Type: OptionNumber, Required: true, Min: &one}},
		Inputs:  []IOSpec{decimalIn(Arg)},
		Outputs: []IOSpec{decimalOut()},
	}
}

// Builtin returns the stock operation catalog. The caller is expected to
// construct it once at startup and share it by reference.
func Builtin() *Registry {
	records := []*Meta{
		// Scalar constants. Timeframe- and session-agnostic.
		{
			ID: "number", Name: "Number", Category: CategoryScalar,
			Options: []OptionSpec{{ID: "value", Type: OptionNumber, Required: true}},
			Outputs: []IOSpec{decimalOut()},
		},
		{
			ID: "text", Name: "Text", Category: CategoryScalar,
			Options: []OptionSpec{{ID: "value", Type: OptionString, Required: true}},
			Outputs: []IOSpec{{ID: Result, Type: String, AllowMultiple: true}},
		},
		{
			ID: "bool_true", Name: "True", Category: CategoryScalar,
			Outputs: []IOSpec{booleanOut()},
		},
		{
			ID: "bool_false", Name: "False", Category: CategoryScalar,
			Outputs: []IOSpec{booleanOut()},
		},
		{
			ID: "null_number", Name: "Null", Category: CategoryScalar,
			Outputs: []IOSpec{decimalOut()},
		},

		// Data sources.
		{
			ID: MarketDataSourceID, Name: "Market Data", Category: CategoryDataSource,
			RequiresTimeFrame: true,
			Outputs: []IOSpec{
				{ID: "o", Name: "Open Price", Type: Decimal, AllowMultiple: true},
				{ID: "h", Name: "High Price", Type: Decimal, AllowMultiple: true},
				{ID: "l", Name: "Low Price", Type: Decimal, AllowMultiple: true},
				{ID: "c", Name: "Close Price", Type: Decimal, AllowMultiple: true},
				{ID: "v", Name: "Volume", Type: Decimal, AllowMultiple: true},
				{ID: "s", Name: "Contract", Type: String, AllowMultiple: true},
			},
			RequiredDataSources: []string{"bars/{ticker}"},
			Options:             []OptionSpec{{ID: "ticker", Type: OptionString}},
		},

		// Comparisons.
		comparison("gt", "Greater Than"),
		comparison("lt", "Less Than"),
		comparison("gte", "Greater Than Or Equal"),
		comparison("lte", "Less Than Or Equal"),
		comparison("eq", "Equals"),
		comparison("neq", "Not Equals"),

		// Arithmetic.
		arithmetic("add", "Add"),
		arithmetic("subtract", "Subtract"),
		arithmetic("multiply", "Multiply"),
		arithmetic("divide", "Divide"),
		{
			ID: "negate", Name: "Negate", Category: CategoryMath,
			Inputs:  []IOSpec{decimalIn(Arg)},
			Outputs: []IOSpec{decimalOut()},
		},

		// Boolean logic.
		logical("logical_and", "And"),
		logical("logical_or", "Or"),
		{
			ID: "logical_not", Name: "Not", Category: CategoryControlFlow,
			Inputs:  []IOSpec{booleanIn(Arg)},
			Outputs: []IOSpec{booleanOut()},
		},

		// Compiler-inserted casts.
		{
			ID: StaticCastBooleanID, Name: "Cast To Boolean", Category: CategoryControlFlow,
			InternalUse: true,
			Inputs:      []IOSpec{{ID: Arg, Type: Number, Required: true}},
			Outputs:     []IOSpec{booleanOut()},
		},
		{
			ID: StaticCastDecimalID, Name: "Cast To Decimal", Category: CategoryMath,
			InternalUse: true,
			Inputs:      []IOSpec{anyIn(Arg)},
			Outputs:     []IOSpec{decimalOut()},
		},

		// Alias: a distinct user-visible binding of an existing output.
		// Never merged by CSE.
		{
			ID: AliasID, Name: "Alias", Category: CategoryUtility,
			InternalUse: true,
			Inputs:      []IOSpec{anyIn(Arg)},
			Outputs:     []IOSpec{{ID: Result, Type: Any, AllowMultiple: true}},
		},

		// Indicators.
		windowed("sma", "Simple Moving Average", CategoryTrend),
		windowed("ema", "Exponential Moving Average", CategoryTrend),
		windowed("lag", "Lag", CategoryUtility),
		windowed("rsi", "Relative Strength Index", CategoryMomentum),
		{
			ID: "crossover", Name: "Crossover", Category: CategoryTrend,
			Inputs:  []IOSpec{decimalIn(Arg0), decimalIn(Arg1)},
			Outputs: []IOSpec{booleanOut()},
		},

		// Cross-sectional rank over the whole asset universe.
		{
			ID: "cs_rank", Name: "Cross-Sectional Rank", Category: CategoryFactor,
			IsCrossSectional: true,
			Inputs:           []IOSpec{decimalIn(Arg)},
			Outputs:          []IOSpec{decimalOut()},
		},

		// Asset-reference predicate: a single boolean scalar per asset.
		{
			ID: AssetRefID, Name: "Asset Reference", Category: CategoryUtility,
			Options: []OptionSpec{
				{ID: "ticker", Type: OptionString},
				{ID: "filter", Type: OptionString},
			},
			Outputs: []IOSpec{{ID: Match, Type: Boolean, AllowMultiple: true}},
		},

		// Asset-reference passthrough: forwards its input column only for
		// matching assets.
		{
			ID: AssetSelectID, Name: "Asset Select", Category: CategoryUtility,
			Options: []OptionSpec{
				{ID: "ticker", Type: OptionString},
				{ID: "filter", Type: OptionString},
			},
			Inputs:  []IOSpec{anyIn(Arg)},
			Outputs: []IOSpec{{ID: Result, Type: Any, AllowMultiple: true}},
		},

		// Sinks.
		{
			ID: TradeSignalExecutorID, Name: "Trade Signal", Category: CategoryExecutor,
			AtLeastOneInputRequired: true,
			Inputs: []IOSpec{
				{ID: "enter_long", Type: Boolean},
				{ID: "exit_long", Type: Boolean},
				{ID: "enter_short", Type: Boolean},
				{ID: "exit_short", Type: Boolean},
			},
		},
		{
			ID: "table_report", Name: "Table Report", Category: CategoryReporter,
			AtLeastOneInputRequired: true,
			Options:                 []OptionSpec{{ID: "title", Type: OptionString}},
			Inputs:                  []IOSpec{{ID: Arg, Type: Any, Required: true, AllowMultiple: true}},
		},
		{
			ID: "numeric_cards_report", Name: "Numeric Cards", Category: CategoryReporter,
			AtLeastOneInputRequired: true,
			Options:                 []OptionSpec{{ID: "title", Type: OptionString}},
			Inputs:                  []IOSpec{{ID: Arg, Type: Decimal, Required: true, AllowMultiple: true}},
		},
		{
			ID: "flag_marker", Name: "Flag Marker", Category: CategoryEventMarker,
			AtLeastOneInputRequired: true,
			Options: []OptionSpec{
				{ID: "label", Type: OptionString},
				{ID: "color", Type: OptionSelect, SelectValues: []string{"green", "red", "blue", "yellow"}},
			},
			Inputs: []IOSpec{booleanIn(Arg)},
		},
	}

	registry, err := NewRegistry(records)
	if err != nil {
		// The builtin catalog is static; a duplicate id is a programming
		// error, not a runtime condition.
		panic(err)
	}
	return registry
}
