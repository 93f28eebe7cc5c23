package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/demetra.report/internal/arima"
	"github.com/banshee-data/demetra.report/internal/iofmt"
	"github.com/banshee-data/demetra.report/internal/tramoseats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
	"github.com/banshee-data/demetra.report/internal/x13"
)

type analyzeOptions struct {
	file       string
	format     string
	method     string
	series     string
	spec       string
	horizon    int
	confidence float64
}

func newAnalyzeCmd() *cobra.Command {
	var o analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a seasonal adjustment or ARIMA forecast on a local file",
		Long: `analyze reads one series from a CSV, JSON, XML, YAML or Excel file and
prints the X-13, TRAMO/SEATS or ARIMA result as JSON. No server or
database is involved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.OutOrStdout(), o)
		},
	}
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "Input file")
	cmd.Flags().StringVar(&o.format, "format", "", "Input format (default from the file extension)")
	cmd.Flags().StringVarP(&o.method, "method", "m", "x13", "x13, tramoseats or arima")
	cmd.Flags().StringVar(&o.series, "series", "", "Name of the series to analyse (default the first)")
	cmd.Flags().StringVar(&o.spec, "spec", "", "JSON specification file for x13 or tramoseats")
	cmd.Flags().IntVar(&o.horizon, "horizon", 12, "ARIMA forecast horizon")
	cmd.Flags().Float64Var(&o.confidence, "confidence", 0.95, "ARIMA forecast interval level")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// arimaReport is the arima method's output.
type arimaReport struct {
	Model     tsdata.ArimaModel     `json:"model"`
	Metrics   arima.Metrics         `json:"metrics"`
	Evaluated int                   `json:"models_evaluated"`
	Forecasts []arima.ForecastPoint `json:"forecasts"`
}

func runAnalyze(out io.Writer, o analyzeOptions) error {
	ts, err := loadSeries(o)
	if err != nil {
		return err
	}
	if v := tsdata.Validate(ts); !v.Valid {
		return fmt.Errorf("invalid series: %s", strings.Join(v.Errors, "; "))
	}
	logger.Debug("analysing series",
		zap.String("method", o.method),
		zap.Int("observations", ts.Len()),
		zap.String("frequency", string(ts.Frequency)))

	var result any
	switch o.method {
	case "x13":
		spec := x13.DefaultSpecification()
		if err := readSpec(o.spec, &spec); err != nil {
			return err
		}
		res, _, err := x13.Process(ts, spec)
		if err != nil {
			return err
		}
		result = res
	case "tramoseats":
		spec := tramoseats.DefaultSpecification()
		if err := readSpec(o.spec, &spec); err != nil {
			return err
		}
		res, err := tramoseats.Process(ts, spec)
		if err != nil {
			return err
		}
		result = res
	case "arima":
		opts := arima.DefaultIdentifyOptions()
		opts.Period = ts.SeasonalPeriod()
		id, err := arima.Identify(ts.Values, opts)
		if err != nil {
			return err
		}
		fc, err := arima.Forecast(ts, &id.Best.Model, o.horizon, o.confidence)
		if err != nil {
			return err
		}
		result = arimaReport{
			Model:     id.Best.Model,
			Metrics:   id.Best.Metrics,
			Evaluated: len(id.Candidates),
			Forecasts: fc,
		}
	default:
		return fmt.Errorf("unknown method %q", o.method)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// loadSeries parses the input file and picks the requested series.
func loadSeries(o analyzeOptions) (*tsdata.Series, error) {
	data, err := os.ReadFile(o.file)
	if err != nil {
		return nil, err
	}
	var format iofmt.Format
	if o.format != "" {
		format, err = iofmt.ParseFormat(o.format)
	} else {
		format, err = iofmt.FormatFromFilename(o.file)
	}
	if err != nil {
		return nil, err
	}
	parsed, err := iofmt.Parse(format, data, nil)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%s contains no series", o.file)
	}
	if o.series == "" {
		return parsed[0].Series, nil
	}
	for _, p := range parsed {
		if p.Name == o.series {
			return p.Series, nil
		}
	}
	return nil, fmt.Errorf("series %q not found in %s", o.series, o.file)
}

// readSpec overlays a JSON specification file onto dst.
func readSpec(path string, dst any) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
