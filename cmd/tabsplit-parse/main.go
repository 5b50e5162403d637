// Command tabsplit-parse runs the receipt parser on recognized text saved as
// JSON and prints the result. The input holds the observations and the size
// of the image they came from:
//
//	{"observations": [{"text": "Burger 12.50", "confidence": 0.95,
//	  "box": {"x": 100, "y": 400, "width": 700, "height": 30}}],
//	 "size": {"width": 1000, "height": 1000}}
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/tabsplit/internal/money"
	"github.com/zombor/tabsplit/internal/parser"
	"github.com/zombor/tabsplit/pkg/logging"
)

type input struct {
	Observations []parser.Observation `json:"observations"`
	Size         parser.Size          `json:"size"`
}

func main() {
	fs := ff.NewFlagSet("tabsplit-parse")
	var (
		profile     = fs.StringLong("profile", parser.ProfileStrict, "Parser profile: 'strict' or 'lenient'")
		diagnostics = fs.BoolLong("diagnostics", "Include per-line diagnostics")
		asJSON      = fs.BoolLong("json", "Print the full result as JSON")
		logLevel    = fs.StringLong("log-level", "", "Log level: debug, info, warn or error")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("TABSPLIT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(*logLevel)

	if err := run(fs.GetArgs(), *profile, *diagnostics, *asJSON, os.Stdout); err != nil {
		slog.Error("Parse failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, profile string, diagnostics, asJSON bool, out io.Writer) error {
	cfg, err := parser.ConfigForProfile(profile)
	if err != nil {
		return err
	}
	cfg.Diagnostics = diagnostics || asJSON

	in, err := readInput(args)
	if err != nil {
		return err
	}

	result, err := parser.New(cfg, parser.WithLogger(slog.Default())).Parse(in.Observations, in.Size)
	if err != nil {
		return fmt.Errorf("parsing: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printSummary(out, result)
	return nil
}

func readInput(args []string) (*input, error) {
	var r io.Reader = os.Stdin
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}
	return &in, nil
}

func printSummary(out io.Writer, r *parser.Result) {
	if r.NothingDetected {
		fmt.Fprintln(out, "nothing detected")
		return
	}
	for _, item := range r.Items {
		flag := ""
		if item.Uncertain {
			flag = " ?"
		}
		fmt.Fprintf(out, "%3d x %-32s %10s%s\n", item.Quantity, item.Name, money.FormatCurrency(item.UnitPrice), flag)
	}
	if r.Subtotal.Valid {
		fmt.Fprintf(out, "%-38s %10s\n", "Subtotal", money.FormatCurrency(r.Subtotal.Decimal))
	}
	if r.VATPercentage.Valid {
		fmt.Fprintf(out, "%-38s %10s\n", "VAT %", r.VATPercentage.Decimal.String())
	}
	if r.ServicePercentage.Valid {
		fmt.Fprintf(out, "%-38s %10s\n", "Service %", r.ServicePercentage.Decimal.String())
	}
	if r.Total.Valid {
		fmt.Fprintf(out, "%-38s %10s (confidence %.2f)\n", "Total", money.FormatCurrency(r.Total.Decimal), r.TotalConfidence)
	}
	fmt.Fprintf(out, "overall confidence %.2f\n", r.Confidence)
	if r.Diagnostics != nil {
		for _, w := range r.Diagnostics.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
	}
}
