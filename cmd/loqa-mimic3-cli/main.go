package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-mimic3/internal/config"
	"github.com/loqalabs/loqa-mimic3/internal/engine"
	"github.com/loqalabs/loqa-mimic3/internal/normalize"
	"github.com/loqalabs/loqa-mimic3/internal/plugin"
)

var version = "0.1.0-dev"

const usage = "expected 'say', 'normalize', 'index' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "say":
		err = runSay(ctx, os.Args[2:])
	case "normalize":
		err = runNormalize(os.Args[2:], os.Stdout)
	case "index":
		err = runIndex(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSay(ctx context.Context, args []string) error {
	var configPath, text, out string
	var ssml, verbose bool
	cmd := flag.NewFlagSet("say", flag.ExitOnError)
	cmd.StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.StringVar(&text, "text", "", "Sentence to speak")
	cmd.StringVar(&out, "out", "out.wav", "Output WAV file")
	cmd.BoolVar(&ssml, "ssml", false, "Treat -text as SSML and skip normalization")
	cmd.BoolVar(&verbose, "v", false, "Log engine activity to stderr")
	cmd.Parse(args)
	if text == "" {
		return errors.New("say: -text is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	p, err := newPlugin(ctx, cfg, verbose)
	if err != nil {
		return err
	}
	defer p.Close()

	if !ssml {
		if _, _, err := p.GetTTS(ctx, text, out); err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	data, err := p.Synthesize(ctx, normalize.Request{Text: text, SSML: true})
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runNormalize(args []string, w io.Writer) error {
	var text string
	cmd := flag.NewFlagSet("normalize", flag.ExitOnError)
	cmd.StringVar(&text, "text", "", "Sentence to normalize")
	cmd.Parse(args)

	req := normalize.Apply(text)
	kind := "text"
	if req.SSML {
		kind = "ssml"
	}
	_, err := fmt.Fprintf(w, "%s\t%s\n", kind, req.Text)
	return err
}

func runIndex(ctx context.Context, args []string) error {
	var configPath, dir string
	cmd := flag.NewFlagSet("index", flag.ExitOnError)
	cmd.StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.StringVar(&dir, "dir", "", "Persistent cache directory (defaults to mimic3.preloaded_cache)")
	cmd.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.TTS.Mimic3.PreloadedCache
	}
	if dir == "" {
		return errors.New("index: no cache directory given")
	}
	// Indexing only scans the directory; the mock engine skips loading voices.
	cfg.TTS.Mode = "mock"
	cfg.TTS.Mimic3 = config.Mimic3Config{PreloadedCache: dir}
	p, err := newPlugin(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Printf("%d %s files indexed in %s\n", p.IndexedFiles(), p.AudioExt(), dir)
	return nil
}

func newPlugin(ctx context.Context, cfg config.Config, verbose bool) (*plugin.Plugin, error) {
	var handler slog.Handler = slog.NewTextHandler(io.Discard, nil)
	if verbose {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg.TTS, logger)
	if err != nil {
		return nil, err
	}
	p, err := plugin.New(ctx, plugin.Options{
		Lang:     cfg.TTS.Lang,
		AudioExt: cfg.TTS.AudioExt,
		Mimic3:   cfg.TTS.Mimic3,
	}, eng, nil, logger)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	return p, nil
}
