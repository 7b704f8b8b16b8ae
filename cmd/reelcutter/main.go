package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keagan/reelcutter/internal/api"
	"github.com/keagan/reelcutter/internal/config"
	"github.com/keagan/reelcutter/internal/logging"
	"github.com/keagan/reelcutter/internal/store"
	"github.com/keagan/reelcutter/internal/watcher"
	"github.com/keagan/reelcutter/pkg/util"
)

var (
	cfgFile   string
	verbose   bool
	logJSON   bool
	logFile   string
	logCloser io.Closer
	outputDir string
	runsLimit int
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reelcutter",
	Short: "reelcutter - vertical highlight reel generator",
	Long:  "Turns a long landscape video into short 9:16 highlight reels with subject tracking and burned-in word captions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		closer, err := logging.Init(logging.Options{Verbose: verbose, JSON: logJSON, File: logFile})
		if err != nil {
			return err
		}
		logCloser = closer

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if outputDir != "" {
			cfg.OutputDir = outputDir
		}

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write JSON log lines to stderr")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append JSON log lines to this file")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output directory (overrides config)")

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list (0 for all)")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

var processCmd = &cobra.Command{
	Use:   "process [input video...]",
	Short: "Render highlight reels for one or more videos",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var failed int
		for _, input := range args {
			run, err := a.runner.Process(cmd.Context(), input)
			if run != nil {
				printRun(cmd, run)
			}
			if err != nil {
				failed++
				log.Error().Err(err).Str("input", input).Msg("processing failed")
				if cmd.Context().Err() != nil {
					return err
				}
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d inputs failed", failed, len(args))
		}
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [input video]",
	Short: "Show the segments a run would render",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		analysis, err := a.pipe.Analyze(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		info := analysis.Info
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d, %.2f fps, %s\n",
			filepath.Base(info.FilePath), info.Width, info.Height, info.FPS, util.FormatDuration(info.Duration))
		if analysis.Volume != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "volume: mean %.1f dB, max %.1f dB\n",
				analysis.Volume.MeanVolume, analysis.Volume.MaxVolume)
		}

		rows := make([][]string, 0, len(analysis.Segments))
		for i, seg := range analysis.Segments {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				util.FormatDuration(util.Seconds(seg.Start)),
				util.FormatDuration(util.Seconds(seg.End)),
				fmt.Sprintf("%.4f", seg.Score),
				seg.Reason,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"#", "Start", "End", "Score", "Reason"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
		))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Process new videos dropped into a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := watcher.New(log.Logger, args[0], func(ctx context.Context, path string) error {
			_, err := a.runner.Process(ctx, path)
			return err
		}, 0)
		if err != nil {
			return err
		}
		defer w.Stop()

		if err := w.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := api.NewServer(ctx, log.Logger, a.runner, a.ledger, api.Options{
			OutputDir: cfg.OutputDir,
			UploadDir: filepath.Join(cfg.WorkDir, "inputs"),
		})
		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", cfg.Server.Addr).Msg("api listening")
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down api")
		return server.Shutdown(shutdownCtx)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs [run id]",
	Short: "List past runs or show one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		ledger, err := store.Open(cmd.Context(), cfg.Store.Path)
		if err != nil {
			return err
		}
		defer ledger.Close()

		if len(args) == 1 {
			run, err := ledger.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(cmd, run)
			return nil
		}

		runs, err := ledger.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
			return nil
		}

		rows := make([][]string, 0, len(runs))
		for _, run := range runs {
			rows = append(rows, []string{
				run.ID,
				filepath.Base(run.InputPath),
				string(run.Status),
				strconv.Itoa(run.Candidates),
				strconv.Itoa(run.Skipped),
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"ID", "Input", "Status", "Candidates", "Skipped", "Started"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
		return nil
	},
}

func printRun(cmd *cobra.Command, run *store.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s (%s)\n", run.ID, run.InputPath, run.Status)
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "error: %s\n", run.ErrorMessage)
	}
	if run.ReportPath != "" {
		fmt.Fprintf(out, "captions: %s\n", run.ReportPath)
	}
	if len(run.Reels) == 0 {
		return
	}

	rows := make([][]string, 0, len(run.Reels))
	for _, reel := range run.Reels {
		rows = append(rows, []string{
			strconv.Itoa(reel.Index),
			util.FormatDuration(util.Seconds(reel.Start)),
			util.FormatDuration(util.Seconds(reel.End)),
			strconv.Itoa(reel.CaptionGroups),
			filepath.Base(reel.OutputPath),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Start", "End", "Captions", "Output"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show [yaml|toml]",
	Short: "Print the effective configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		name := "config.yaml"
		if len(args) == 1 && args[0] == "toml" {
			name = "config.toml"
		}
		data, err := cfg.Marshal(name)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}
