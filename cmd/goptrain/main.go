// Command goptrain trains one random forest regressor per phone that maps
// GOP-based features to human expert scores.
//
//	goptrain [--phone-symbol-table phones-pure.txt] feat.scp scores.json model.gob
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/ieee0824/gopscore/gop"
	"github.com/ieee0824/gopscore/internal/config"
	"github.com/ieee0824/gopscore/kaldi"
	"github.com/ieee0824/gopscore/phones"
	"github.com/ieee0824/gopscore/scores"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type options struct {
	phoneTable string
	configPath string
	floor      float64
	trees      int
	seed       int64
	jobs       int
	format     string
	color      string
	quiet      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "goptrain [flags] <feature-scp> <human-scoring-json> <model>",
		Short: "Train per-phone models converting GOP features into human expert scores",
		Long: `goptrain reads GOP-based feature vectors from a Kaldi scp file and human
expert scores from a JSON file, balances every phone's examples by score,
fits one random forest regressor per phone and writes the phone -> model
mapping to <model>.`,
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args[0], args[1], args[2])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.phoneTable, "phone-symbol-table", "", "phone symbol table, used to detect unmatched features and labels")
	f.StringVar(&opts.configPath, "config", "", "TOML training configuration")
	f.Float64Var(&opts.floor, "floor", scores.DefaultFloor, "lowest human score kept; smaller scores are raised to it")
	f.IntVar(&opts.trees, "trees", 100, "number of trees per phone")
	f.Int64Var(&opts.seed, "seed", 0, "random seed for bootstrap draws and balanced sampling")
	f.IntVar(&opts.jobs, "jobs", 1, "trees fitted concurrently")
	f.StringVar(&opts.format, "format", "", "model encoding: gob or msgpack (default: from config, else from the output extension)")
	f.StringVar(&opts.color, "color", "auto", "colorize output (auto|on|off)")
	f.BoolVar(&opts.quiet, "quiet", false, "only log warnings and errors")
	return cmd
}

func run(cmd *cobra.Command, opts *options, scpPath, scoresPath, modelPath string) error {
	stderr := cmd.ErrOrStderr()
	fmt.Fprintln(stderr, strings.Join(os.Args, " "))

	if err := setupColor(opts.color, stderr); err != nil {
		return err
	}

	cfg, format, err := resolveConfig(cmd, opts, modelPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.quiet {
		level = slog.LevelWarn
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	table, err := phones.LoadFile(opts.phoneTable)
	if err != nil {
		return fmt.Errorf("load phone symbol table: %w", err)
	}
	if table != nil {
		log.Info("phone symbol table loaded", "path", opts.phoneTable, "phones", table.Len())
	}

	human, err := scores.LoadFile(scoresPath, cfg.Floor)
	if err != nil {
		return fmt.Errorf("load human scores: %w", err)
	}
	log.Info("human scores loaded", "path", scoresPath, "keys", human.Len(), "floor", human.Floor())

	reader, err := kaldi.OpenScp(scpPath)
	if err != nil {
		return fmt.Errorf("open features: %w", err)
	}
	defer reader.Close()

	ds, diags, err := gop.Collect(reader, human, table, log)
	if err != nil {
		return fmt.Errorf("read features: %w", err)
	}

	ms, err := gop.Train(cmd.Context(), ds, cfg.TrainConfig(), log)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	if err := ms.SaveFile(modelPath, format); err != nil {
		return fmt.Errorf("save model: %w", err)
	}

	printSummary(stderr, ds, diags, ms)
	fmt.Fprintf(stderr, "Model saved to %s (%s)\n", modelPath, format)
	return nil
}

// resolveConfig layers defaults, the optional config file and explicit flags.
func resolveConfig(cmd *cobra.Command, opts *options, modelPath string) (config.Config, gop.Format, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		cfg, err = config.LoadFile(opts.configPath)
		if err != nil {
			return config.Config{}, "", err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("floor") {
		cfg.Floor = opts.floor
	}
	if flags.Changed("trees") {
		cfg.Forest.Trees = opts.trees
	}
	if flags.Changed("seed") {
		cfg.Forest.Seed = opts.seed
		cfg.BalanceSeed = opts.seed
	}
	if flags.Changed("jobs") {
		cfg.Forest.Jobs = opts.jobs
	}
	switch {
	case flags.Changed("format"):
		cfg.Format = opts.format
	case !cfg.FormatSet:
		cfg.Format = string(gop.FormatForPath(modelPath))
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	format, err := cfg.ModelFormat()
	if err != nil {
		return config.Config{}, "", err
	}
	return cfg, format, nil
}

func printSummary(w io.Writer, ds *gop.Dataset, diags gop.Diagnostics, ms *gop.ModelSet) {
	warn := color.New(color.FgYellow)
	ok := color.New(color.FgGreen)

	fmt.Fprintf(w, "Records read: %d, kept: %d\n", ds.Read, ds.Len())
	if n := diags.Count(gop.KindMissingScore); n > 0 {
		warn.Fprintf(w, "Skipped %d records without human score\n", n)
	}
	if n := diags.Count(gop.KindPhoneMismatch); n > 0 {
		warn.Fprintf(w, "Skipped %d records with mismatched phones\n", n)
	}
	ok.Fprintf(w, "Phones trained: %d\n", len(ms.Models))
}

func setupColor(mode string, w io.Writer) error {
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		f, isFile := w.(*os.File)
		color.NoColor = !isFile || !isTerminal(f)
	default:
		return fmt.Errorf("invalid --color %q (want auto, on or off)", mode)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
