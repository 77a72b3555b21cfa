package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/internal/tui"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/speech"
)

// ── play ──────────────────────────────────────────────────────────────────────

func runPlay(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "optional YAML configuration file")
	scenePath := fs.String("scene", "", "scene file; overrides scene.path")
	logPath := fs.String("log", "", "write logs to this file instead of discarding them")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(stderr, "parley: %v\n", err)
			return 1
		}
	}
	if *scenePath != "" {
		cfg.Scene.Path = *scenePath
	}

	// The terminal belongs to the UI; logs go to a file or nowhere.
	logOut := io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "parley: open log: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(cfg.Server.LogLevel, logOut)
	slog.SetDefault(logger)

	g, err := loadGraph(cfg.Scene)
	if err != nil {
		fmt.Fprintf(stderr, "parley: %v\n", err)
		return 1
	}
	if issues := g.Issues(); len(issues) > 0 {
		fmt.Fprintf(stderr, "parley: %s is not playable:\n", cfg.Scene.Path)
		printIssues(stderr, issues)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timer := speech.NewTimer(speech.WithReadingTime(cfg.Speech.MinReadingTime, cfg.Speech.PerCharReadingTime))
	if err := tui.Run(ctx, g,
		engine.WithTimer(timer),
		engine.WithLogger(logger),
	); err != nil {
		fmt.Fprintf(stderr, "parley: %v\n", err)
		return 1
	}
	return 0
}

func loadGraph(sc config.SceneConfig) (*scene.Graph, error) {
	var opts []scene.LoadOption
	if sc.Strict {
		opts = append(opts, scene.Strict())
	}
	doc, err := scene.LoadFile(sc.Path, opts...)
	if err != nil {
		return nil, err
	}
	return scene.NewGraph(doc, sc.StartNode), nil
}

// ── validate ──────────────────────────────────────────────────────────────────

// runValidate prints the validation report of one scene file. It exits 1 when
// the file does not decode or breaks any rule.
func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	strict := fs.Bool("strict", true, "reject unknown fields")
	start := fs.String("start", "", "start node override")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: parley validate [-strict] [-start id] <file>")
		return 2
	}
	path := fs.Arg(0)

	g, err := loadGraph(config.SceneConfig{Path: path, StartNode: *start, Strict: *strict})
	if err != nil {
		var schemaErr *scene.SchemaError
		if errors.As(err, &schemaErr) {
			fmt.Fprintf(stdout, "%s: schema: %v\n", path, schemaErr.Err)
		} else {
			fmt.Fprintf(stderr, "parley: %v\n", err)
		}
		return 1
	}

	issues := g.Issues()
	if len(issues) == 0 {
		fmt.Fprintf(stdout, "%s: ok (scene %q, %d nodes, start %s)\n", path, g.Meta().ID, len(g.Nodes()), g.Start())
		return 0
	}
	fmt.Fprintf(stdout, "%s: %d issue(s)\n", path, len(issues))
	printIssues(stdout, issues)
	return 1
}

func printIssues(w io.Writer, issues scene.Issues) {
	for _, is := range issues {
		fmt.Fprintf(w, "  [%s] %s\n", is.Rule, is.Message)
	}
}

// ── schema ────────────────────────────────────────────────────────────────────

func runSchema(stdout, stderr io.Writer) int {
	data, err := scene.SchemaJSON()
	if err != nil {
		fmt.Fprintf(stderr, "parley: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s\n", data)
	return 0
}

// ── voices ────────────────────────────────────────────────────────────────────

// runVoices lists the voices of the configured TTS provider so that
// speech.voices can name one.
func runVoices(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("voices", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	timeout := fs.Duration("timeout", 10*time.Second, "give up on the provider after this long")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "parley: %v\n", err)
		return 1
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel, stderr))

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		fmt.Fprintf(stderr, "parley: %v\n", err)
		return 1
	}
	if providers.TTS == nil {
		fmt.Fprintln(stderr, "parley: providers.tts is not configured")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := printVoices(ctx, stdout, providers.TTS); err != nil {
		fmt.Fprintf(stderr, "parley: %v\n", err)
		return 1
	}
	return 0
}

// printVoices writes one line per voice of p: id, name, provider and the
// provider's labels in key order.
func printVoices(ctx context.Context, w io.Writer, p tts.Provider) error {
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}
	voices = slices.Clone(voices)
	slices.SortFunc(voices, func(a, b tts.Voice) int { return strings.Compare(a.Name, b.Name) })

	fmt.Fprintf(w, "%-24s %-20s %-12s %s\n", "VOICE_ID", "NAME", "PROVIDER", "LABELS")
	for _, v := range voices {
		labels := make([]string, 0, len(v.Metadata))
		for _, k := range slices.Sorted(maps.Keys(v.Metadata)) {
			labels = append(labels, k+"="+v.Metadata[k])
		}
		fmt.Fprintf(w, "%-24s %-20s %-12s %s\n", v.ID, v.Name, v.Provider, strings.Join(labels, " "))
	}
	fmt.Fprintf(w, "%d voice(s)\n", len(voices))
	return nil
}
