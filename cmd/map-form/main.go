// Command map-form maps the fields of one USCIS PDF form against the built-in
// canonical registry and prints the mapping export.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/spf13/pflag"

	"github.com/a3tai/form-field-mapper/internal/config"
	"github.com/a3tai/form-field-mapper/internal/extract"
	"github.com/a3tai/form-field-mapper/internal/intelligence"
	"github.com/a3tai/form-field-mapper/internal/mapping"
	"github.com/a3tai/form-field-mapper/internal/registry"
)

type options struct {
	formType      string
	formVersion   string
	format        string
	rulesPath     string
	canonicalPath string
	workers       int
	verbose       bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, path, err := parseArgs(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	outcome, err := mapFile(ctx, opts, path, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error mapping form: %v\n", err)
		return 1
	}

	switch opts.format {
	case "json":
		err = outputJSON(stdout, outcome)
	default:
		outputText(stdout, outcome)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error writing results: %v\n", err)
		return 1
	}
	if outcome.Report != nil && outcome.Report.HasFatal() {
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (*options, string, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("map-form", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.formType, "form-type", "", "Form type (default: derived from the file name)")
	fs.StringVar(&opts.formVersion, "form-version", "1.0.0", "Form version the mappings are recorded under")
	fs.StringVar(&opts.format, "format", "text", "Output format: text, json")
	fs.StringVar(&opts.rulesPath, "rules", "", "Indicator rules file (YAML or JSON)")
	fs.StringVar(&opts.canonicalPath, "canonical", "", "Canonical fields file (YAML or JSON)")
	fs.IntVar(&opts.workers, "workers", config.DefaultWorkers, "Classification workers")
	fs.BoolVar(&opts.verbose, "verbose", false, "Log debug output to stderr")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Map the fields of a USCIS PDF form to canonical collection fields.\n\n")
		fmt.Fprintf(stderr, "USAGE:\n  map-form [OPTIONS] <pdf_file>\n\nOPTIONS:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(stderr, "  map-form forms/i-485.pdf\n")
		fmt.Fprintf(stderr, "  map-form --format json --form-version 2024.1.0 forms/i-130.pdf\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, "", fmt.Errorf("exactly one PDF file path required")
	}
	if opts.format != "text" && opts.format != "json" {
		return nil, "", fmt.Errorf("invalid format %q (must be text or json)", opts.format)
	}
	if opts.workers <= 0 {
		return nil, "", fmt.Errorf("workers must be positive")
	}
	return opts, fs.Arg(0), nil
}

func mapFile(ctx context.Context, opts *options, path string, logger *slog.Logger) (*mapping.Outcome, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	extractor := extract.NewExtractor(extract.WithLogger(logger))
	extracted, err := extractor.ExtractFile(path)
	if err != nil {
		return nil, err
	}

	classifier := intelligence.NewFieldClassifierWithConfig(intelligence.ClassifierConfig{
		RulesPath: opts.rulesPath,
		CacheSize: intelligence.DefaultClassifierConfig().CacheSize,
	}, logger)

	reg := registry.New(registry.WithLogger(logger))
	seed := registry.DefaultCanonicalFields()
	if opts.canonicalPath != "" {
		if seed, err = registry.LoadCanonicalFile(opts.canonicalPath); err != nil {
			return nil, err
		}
	}
	if _, err := registry.Seed(ctx, reg, seed); err != nil {
		return nil, err
	}

	formType := opts.formType
	if formType == "" {
		formType = extract.FormTypeFromFile(extracted.File)
	}
	mapper := mapping.NewMapper(classifier, reg, mapping.WithWorkers(opts.workers), mapping.WithLogger(logger))
	return mapper.Map(ctx, mapping.Request{
		FormType: formType,
		Version:  opts.formVersion,
		Records:  extracted.Records,
	})
}

func outputJSON(w io.Writer, outcome *mapping.Outcome) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(outcome.Export)
}

func outputText(w io.Writer, outcome *mapping.Outcome) {
	export := outcome.Export
	fmt.Fprintf(w, "Form %s version %s\n", outcome.FormType, outcome.Version)
	fmt.Fprintf(w, "Mapped %d of %d fields\n\n", export.MappedFields, export.TotalFields)

	for i, name := range slices.Sorted(maps.Keys(export.FieldMappings)) {
		entry := export.FieldMappings[name]
		fmt.Fprintf(w, "[%d] %s\n", i+1, name)
		fmt.Fprintf(w, "    Persona: %s\n", entry.Persona)
		fmt.Fprintf(w, "    Domain: %s\n", entry.Domain)
		fmt.Fprintf(w, "    Collection field: %s\n", entry.CollectionFieldName)
	}

	if len(export.NewCollectionFields) > 0 {
		fmt.Fprintf(w, "\nProposed collection fields:\n")
		for _, name := range export.NewCollectionFields {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
	if len(outcome.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped %d structural fields\n", len(outcome.Skipped))
	}
	if outcome.Report != nil {
		fmt.Fprintf(w, "\n%s\n", outcome.Report.Summary())
	}
}
