package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/liuxd6825/loadrun/cmd/state"
	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/output"
	"github.com/liuxd6825/loadrun/output/csv"
	"github.com/liuxd6825/loadrun/output/influxdb"
	"github.com/liuxd6825/loadrun/output/json"
	"github.com/liuxd6825/loadrun/output/statsd"
)

// builtinOutput is the name of a built-in output type.
type builtinOutput string

const (
	builtinOutputCSV      builtinOutput = "csv"
	builtinOutputInfluxdb builtinOutput = "influxdb"
	builtinOutputJSON     builtinOutput = "json"
	builtinOutputStatsd   builtinOutput = "statsd"
)

func getAllOutputConstructors() map[string]output.Constructor {
	return map[string]output.Constructor{
		string(builtinOutputCSV):      csv.New,
		string(builtinOutputInfluxdb): influxdb.New,
		string(builtinOutputJSON):     json.New,
		string(builtinOutputStatsd):   statsd.New,
	}
}

func getPossibleIDList(constrs map[string]output.Constructor) string {
	res := make([]string, 0, len(constrs))
	for k := range constrs {
		res = append(res, k)
	}
	sort.Strings(res)
	return strings.Join(res, ", ")
}

func createOutputs(gs *state.GlobalState, conf Config, rtOpts lib.RuntimeOptions) ([]output.Output, error) {
	outputConstructors := getAllOutputConstructors()
	baseParams := output.Params{
		Logger:         gs.Logger,
		Environment:    gs.Env,
		StdOut:         gs.Stdout,
		FS:             gs.FS,
		ScriptOptions:  conf.Options,
		RuntimeOptions: rtOpts,
	}

	result := make([]output.Output, 0, len(conf.Out))
	for _, outputFullArg := range conf.Out {
		outputType, outputArg := parseOutputArgument(outputFullArg)
		outputConstructor, ok := outputConstructors[outputType]
		if !ok {
			return nil, fmt.Errorf(
				"invalid output type '%s', available types are: %s",
				outputType, getPossibleIDList(outputConstructors),
			)
		}

		params := baseParams
		params.OutputType = outputType
		params.ConfigArgument = outputArg

		out, err := outputConstructor(params)
		if err != nil {
			return nil, fmt.Errorf("could not create the '%s' output: %w", outputType, err)
		}
		result = append(result, out)
	}

	return result, nil
}

func parseOutputArgument(s string) (t, arg string) {
	parts := strings.SplitN(s, "=", 2)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], parts[1]
	}
}
