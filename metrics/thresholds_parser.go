package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/guregu/null.v3"
)

// ErrThresholdParsing indicates a malformed threshold expression.
var ErrThresholdParsing = errors.New("parsing threshold expression failed")

// ThresholdExpression is the parsed form of a threshold source such as
// `p(95)<2000`: <AggregationMethod>[(AggregationValue)] <Operator> <Value>.
type ThresholdExpression struct {
	// AggregationMethod is the sink value the threshold applies to, e.g. "p".
	AggregationMethod string

	// AggregationValue is the percentile of a "p" aggregation method.
	AggregationValue null.Float

	// Operator is the comparison applied between the aggregated value and Value.
	Operator string

	// Value is the right hand side of the comparison.
	Value float64
}

// SinkKey returns the key under which the aggregated value is found in a
// formatted sink, e.g. "p(95)" or "avg".
func (te *ThresholdExpression) SinkKey() string {
	if te.AggregationMethod == tokenPercentile {
		return fmt.Sprintf("%s(%g)", tokenPercentile, te.AggregationValue.Float64)
	}
	return te.AggregationMethod
}

func (te *ThresholdExpression) String() string {
	return fmt.Sprintf("%s%s%g", te.SinkKey(), te.Operator, te.Value)
}

// parseThresholdExpression turns the source into a ThresholdExpression.
// Whitespace around the tokens is ignored.
func parseThresholdExpression(input string) (*ThresholdExpression, error) {
	method, operator, value, err := scanThresholdExpression(input)
	if err != nil {
		return nil, err
	}

	aggMethod, aggValue, err := parseThresholdAggregationMethod(method)
	if err != nil {
		return nil, err
	}

	parsedValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold value %q is not a number", ErrThresholdParsing, value)
	}

	return &ThresholdExpression{
		AggregationMethod: aggMethod,
		AggregationValue:  aggValue,
		Operator:          operator,
		Value:             parsedValue,
	}, nil
}

// Operators are ordered so that the longest match wins: `===` before `==`,
// `>=` before `>`.
var operatorTokens = [7]string{
	tokenStrictlyEqual,
	tokenLooselyEqual,
	tokenBangEqual,
	tokenGreaterEqual,
	tokenLessEqual,
	tokenLess,
	tokenGreater,
}

func scanThresholdExpression(input string) (method, operator, value string, err error) {
	for _, op := range operatorTokens {
		substrings := strings.SplitN(input, op, 2)
		if len(substrings) != 2 {
			continue
		}
		method = strings.TrimSpace(substrings[0])
		value = strings.TrimSpace(substrings[1])
		if method == "" || value == "" {
			return "", "", "", fmt.Errorf("%w: %q is missing an operand", ErrThresholdParsing, input)
		}
		return method, op, value, nil
	}

	return "", "", "", fmt.Errorf("%w: no valid operator found in %q, use one of %s",
		ErrThresholdParsing, input, strings.Join(operatorTokens[:], " "))
}

func parseThresholdAggregationMethod(input string) (string, null.Float, error) {
	switch input {
	case tokenAvg, tokenMin, tokenMax, tokenMed, tokenCount, tokenRate, tokenValue:
		return input, null.Float{}, nil
	}

	if strings.HasPrefix(input, tokenPercentile+"(") && strings.HasSuffix(input, ")") {
		raw := strings.TrimSpace(input[2 : len(input)-1])
		percentile, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", null.Float{}, fmt.Errorf("%w: malformed percentile value %q", ErrThresholdParsing, raw)
		}
		if percentile < 0 || percentile > 100 {
			return "", null.Float{}, fmt.Errorf("%w: percentile %g out of the [0, 100] range", ErrThresholdParsing, percentile)
		}
		return tokenPercentile, null.FloatFrom(percentile), nil
	}

	return "", null.Float{}, fmt.Errorf("%w: unknown aggregation method %q", ErrThresholdParsing, input)
}

const (
	tokenLessEqual     = "<="
	tokenLess          = "<"
	tokenGreaterEqual  = ">="
	tokenGreater       = ">"
	tokenStrictlyEqual = "==="
	tokenLooselyEqual  = "=="
	tokenBangEqual     = "!="

	tokenAvg        = "avg"
	tokenMin        = "min"
	tokenMax        = "max"
	tokenMed        = "med"
	tokenPercentile = "p"
	tokenCount      = "count"
	tokenRate       = "rate"
	tokenValue      = "value"
)
