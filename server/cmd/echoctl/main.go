// Command echoctl scores echo datasets and generates synthetic ones from the
// command line, without a running server.
//
//	echoctl analyze  -file capture.json [-source lab] [-out reports] [-skip-malformed]
//	echoctl generate -entries 500 [-anomalies] [-seed 42] [-out dataset.json]
//	echoctl reports  [-dir reports]
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/echoscope/echoscope/pkg/health"
	"github.com/echoscope/echoscope/pkg/types"
	"github.com/echoscope/echoscope/server/internal/config"
	"github.com/echoscope/echoscope/server/internal/dataset"
	"github.com/echoscope/echoscope/server/internal/generator"
	"github.com/echoscope/echoscope/server/internal/report"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitBadInput  = 3
	exitMalformed = 4
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	switch args[0] {
	case "analyze":
		return analyzeCmd(args[1:], stdout, stderr)
	case "generate":
		return generateCmd(args[1:], stdout, stderr)
	case "reports":
		return reportsCmd(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "echoctl: unknown command %q\n", args[0])
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: echoctl <analyze|generate|reports> [flags]")
}

func analyzeCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "dataset JSON file (required; - for stdin)")
	source := fs.String("source", "", "source name (default: file base name)")
	out := fs.String("out", "reports", "directory the report artifact is written to; empty to skip")
	cfgPath := fs.String("config", "", "optional server config whose scoring section is used")
	skip := fs.Bool("skip-malformed", false, "drop malformed samples instead of failing")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *file == "" {
		fmt.Fprintln(stderr, "echoctl analyze: -file is required")
		return exitUsage
	}

	policy := health.DefaultPolicy()
	if *cfgPath != "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "echoctl: %v\n", err)
			return exitError
		}
		policy = cfg.Server.Scoring.Policy()
	}
	if *skip {
		policy.Samples = health.SampleSkip
	}

	var r io.Reader = os.Stdin
	name := *source
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintf(stderr, "echoctl: %v\n", err)
			return exitError
		}
		defer f.Close()
		r = f
		if name == "" {
			name = filepath.Base(*file)
		}
	}

	now := time.Now().UTC()
	ds, err := dataset.Parse(r, name, now)
	if err != nil {
		return reportErr(stderr, err)
	}
	if ds.SourceName == "" {
		ds.SourceName = "stdin"
	}
	res, err := health.Score(ds, policy, now)
	if err != nil {
		return reportErr(stderr, err)
	}
	rep := res.Report

	filename := ""
	if *out != "" {
		w, err := report.NewWriter(*out)
		if err != nil {
			fmt.Fprintf(stderr, "echoctl: %v\n", err)
			return exitError
		}
		if filename, rep, err = w.Write(rep); err != nil {
			fmt.Fprintf(stderr, "echoctl: %v\n", err)
			return exitError
		}
		filename = filepath.Join(*out, filename)
	}

	result := struct {
		File    string               `json:"file,omitempty"`
		Report  types.ReportArtifact `json:"report"`
		Skipped []int                `json:"skipped,omitempty"`
	}{filename, rep.Artifact(), res.Skipped}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.Encode(result) //nolint:errcheck
	return exitOK
}

func generateCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	entries := fs.Int("entries", 100, "number of samples")
	anomalies := fs.Bool("anomalies", false, "inject latency and loss outliers")
	rate := fs.Float64("anomaly-rate", 0, "outlier fraction (default 0.1)")
	seed := fs.Int64("seed", 0, "random seed (default: current time)")
	source := fs.String("source", "", "source name written into the dataset")
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	ds, err := generator.Generate(generator.Params{
		Entries:       *entries,
		WithAnomalies: *anomalies,
		AnomalyRate:   *rate,
		Seed:          s,
		Start:         time.Now().UTC().Truncate(time.Second),
		SourceName:    *source,
	})
	if err != nil {
		return reportErr(stderr, err)
	}

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(stderr, "echoctl: %v\n", err)
			return exitError
		}
		defer f.Close()
		w = f
	}
	if err := generator.Encode(w, ds); err != nil {
		fmt.Fprintf(stderr, "echoctl: %v\n", err)
		return exitError
	}
	if *out != "" {
		fmt.Fprintf(stderr, "wrote %d samples to %s (seed %d)\n", ds.Count(), *out, s)
	}
	return exitOK
}

func reportsCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reports", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "reports", "report directory")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	w, err := report.NewWriter(*dir)
	if err != nil {
		fmt.Fprintf(stderr, "echoctl: %v\n", err)
		return exitError
	}
	entries, err := w.List()
	if err != nil {
		fmt.Fprintf(stderr, "echoctl: %v\n", err)
		return exitError
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tSOURCE\tSCORE\tLEVEL\tPOINTS\tFILE")
	for _, e := range entries {
		a := e.Artifact
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n",
			a.Timestamp.UTC().Format(time.RFC3339), a.Filename,
			a.HealthScore.Score, a.HealthScore.Level, a.DataPoints, e.Filename)
	}
	tw.Flush()
	return exitOK
}

// reportErr prints err and maps it to an exit code.
func reportErr(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "echoctl: %v\n", err)
	switch {
	case errors.Is(err, health.ErrMalformedSample):
		return exitMalformed
	case errors.Is(err, health.ErrInvalidInput):
		return exitBadInput
	default:
		return exitError
	}
}
