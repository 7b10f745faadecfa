package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"boqbalance/internal/config"
	"boqbalance/internal/exporter"
	"boqbalance/internal/importer"
	"boqbalance/internal/model"
	"boqbalance/internal/service/calculator"
	"boqbalance/internal/service/iteration"
	"boqbalance/internal/service/matching"
	"boqbalance/internal/service/reconcile"
	"boqbalance/internal/service/session"
	"boqbalance/internal/util"
)

type globalOptions struct {
	configDir  string
	catalogues []string
	forecast   string
	verbose    bool
}

// workspace 一次命令行运行的会话与服务
type workspace struct {
	cfg     *config.AppConfig
	sess    *session.Session
	recon   *reconcile.Service
	imports *importer.Coordinator
	out     io.Writer
}

func newWorkspace(opts *globalOptions, out io.Writer) (*workspace, error) {
	cfg, _, err := config.LoadConfigWithInfo(opts.configDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	matcher := matching.New(nil, cfg.MatchingOptions(), logger)
	controller := iteration.NewController(calculator.NewOptimizer(logger), cfg.Adjuster(), logger)
	return &workspace{
		cfg:     cfg,
		sess:    session.New("cli", "boqctl", cfg.OptimizeParams()),
		recon:   reconcile.New(matcher, controller, nil, logger),
		imports: importer.NewCoordinator(nil, logger),
		out:     out,
	}, nil
}

// load 导入价格库、预算与清单文件
func (w *workspace) load(opts *globalOptions, boqs []string) error {
	if len(opts.catalogues) == 0 {
		return errors.New("at least one --catalogue is required")
	}
	for _, path := range opts.catalogues {
		if err := w.importFile(importer.KindCatalogue, path); err != nil {
			return err
		}
	}
	if opts.forecast != "" {
		if err := w.importFile(importer.KindForecast, opts.forecast); err != nil {
			return err
		}
	}
	for _, path := range boqs {
		if err := w.importFile(importer.KindBOQ, path); err != nil {
			return err
		}
	}
	return nil
}

func (w *workspace) importFile(kind importer.Kind, path string) error {
	res, err := w.imports.Run(importer.ImportOptions{Session: w.sess, Kind: kind, FilePath: path})
	if err != nil {
		return fmt.Errorf("import %s %s: %w", kind, path, err)
	}
	fmt.Fprintf(w.out, "imported %-9s %s: %d rows (%d skipped)\n", kind, path, res.Report.ImportedRows, res.Report.SkippedRows)
	return nil
}

func (w *workspace) printMatch(r *model.MatchResult, unmatched []model.UnifiedCandidate) {
	s := r.Stats
	fmt.Fprintf(w.out, "\nline items       %d (matched %d, unmatched %d)\n", s.TotalItems, s.MatchedItems, s.UnmatchedItems)
	fmt.Fprintf(w.out, "unique positions %d (matched %d)\n", s.UniquePositions, s.MatchedPositions)
	if len(unmatched) == 0 {
		return
	}

	fmt.Fprintln(w.out, "\nunmatched:")
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tUNIT\tCOUNT\tBEST CANDIDATE")
	for _, u := range unmatched {
		best := "-"
		if len(u.Candidates) > 0 {
			c := u.Candidates[0]
			best = fmt.Sprintf("%s [%s] %.2f", c.Entry.Name, c.Entry.ID, c.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", u.Name, u.Unit, u.OccurrenceCount, best)
	}
	tw.Flush()
}

func (w *workspace) printIteration(r *model.IterationResult) {
	places := int32(w.cfg.Excel.CurrencyPlaces)
	fmt.Fprintf(w.out, "\niteration %d  status %s  lambda %g  gap %s (%s)\n",
		r.Iteration, r.Status, r.Params.Lambda,
		util.FormatCurrency(r.OverallGap, places), util.FormatPercent(r.GapPercent()))

	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STAGE\tFORECAST\tPROPOSED\tGAP\tGAP %\t")
	for _, s := range r.PerStage {
		stage := s.StageCode
		if s.Infeasible {
			stage += " (infeasible)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", stage,
			util.FormatCurrency(s.Forecast, places), util.FormatCurrency(s.Proposed, places),
			util.FormatCurrency(s.Gap, places), util.FormatPercent(s.GapPercent))
	}
	tw.Flush()
}

func createMatchCmd(opts *globalOptions) *cobra.Command {
	var topN int
	cmd := &cobra.Command{
		Use:   "match [boq.xlsx...]",
		Short: "Match BOQ line items against the catalogue and list unmatched positions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := newWorkspace(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := w.load(opts, args); err != nil {
				return err
			}
			r, err := w.recon.Match(cmd.Context(), w.sess)
			if err != nil {
				return err
			}
			unmatched, err := w.recon.Unmatched(w.sess, topN)
			if err != nil {
				return err
			}
			w.printMatch(r, unmatched)
			return nil
		},
	}
	cmd.Flags().IntVar(&topN, "top", 3, "candidates listed per unmatched position")
	return cmd
}

func createOptimizeCmd(opts *globalOptions) *cobra.Command {
	var (
		iterations int
		out        string
		open       bool
		lambda     float64
	)
	cmd := &cobra.Command{
		Use:   "optimize [boq.xlsx...]",
		Short: "Solve coefficients for the stage forecasts and export the last iteration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.forecast == "" {
				return errors.New("--forecast is required")
			}
			w, err := newWorkspace(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("lambda") {
				p := w.sess.Params()
				p.Lambda = lambda
				w.sess.SetParams(p)
			}
			if err := w.load(opts, args); err != nil {
				return err
			}

			ctx := cmd.Context()
			m, err := w.recon.Match(ctx, w.sess)
			if err != nil {
				return err
			}
			w.printMatch(m, nil)

			results, err := w.recon.Run(ctx, w.sess, iterations)
			for _, r := range results {
				w.printIteration(r)
			}
			if err != nil {
				return err
			}
			if out == "" {
				return nil
			}
			return w.export(out, open)
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 1, "adaptive iterations to run")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report workbook to this path")
	cmd.Flags().BoolVar(&open, "open", false, "open the report after export")
	cmd.Flags().Float64Var(&lambda, "lambda", 0, "deviation penalty for the first iteration")
	return cmd
}

func (w *workspace) export(path string, open bool) error {
	snap := w.sess.Snapshot()
	unmatched, err := w.recon.Unmatched(w.sess, 0)
	if err != nil {
		return err
	}
	f, err := exporter.NewExporter(w.cfg.Excel.CurrencyPlaces).Export(exporter.ExportOptions{
		SessionName: w.sess.Name(),
		Result:      snap.SelectedIteration(),
		Match:       snap.Match,
		Documents:   snap.Documents,
		Unmatched:   unmatched,
	})
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return err
	}
	fmt.Fprintf(w.out, "\nreport written to %s\n", path)
	if open {
		if err := util.OpenWithFallback(path); err != nil {
			fmt.Fprintf(w.out, "could not open %s: %v\n", path, err)
		}
	}
	return nil
}
