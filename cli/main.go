package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/checkerls/checkerls/server/config"
	"github.com/checkerls/checkerls/server/helpers"
	"github.com/checkerls/checkerls/server/logger"
	"github.com/checkerls/checkerls/server/lsp_server"
	"github.com/checkerls/checkerls/server/release"
	"github.com/checkerls/checkerls/server/rpc"
	"github.com/checkerls/checkerls/server/telemetry"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// LogFileName is the server log kept in the data directory.
const LogFileName = "checkerls.log"

var rootCmd = &cobra.Command{
	Use:     "checkerls",
	Version: release.Version(),
	Short:   "checkerls relays Checker Framework diagnostics to LSP-supported editors.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// change data-dir if present
		if dataDir, _ := cmd.Flags().GetString("data-dir"); len(dataDir) != 0 {
			helpers.SetDataDirPath(dataDir)
		}
	},
}

// flagSettings collects the settings given on the command line. Flags that
// were not set stay empty so they do not override the config files.
func flagSettings(cmd *cobra.Command) config.Settings {
	var s config.Settings
	flags := cmd.Flags()

	if flags.Changed("framework-path") {
		s.FrameworkPath, _ = flags.GetString("framework-path")
	}
	if flags.Changed("checkers") {
		s.Checkers, _ = flags.GetStringSlice("checkers")
	}
	if flags.Changed("command-line-options") {
		s.CommandLineOptions, _ = flags.GetStringArray("command-line-options")
	}
	if flags.Changed("java") {
		s.JavaPath, _ = flags.GetString("java")
	}
	if flags.Changed("worker-jar") {
		s.WorkerJar, _ = flags.GetString("worker-jar")
	}
	if flags.Changed("worker-main") {
		s.WorkerMain, _ = flags.GetString("worker-main")
	}
	return s
}

// loadSettings merges the config files with the command line flags and
// returns the path of the config file that was read last, if any.
func loadSettings(cmd *cobra.Command) (config.Settings, string, error) {
	configPath, _ := cmd.Flags().GetString("config")

	settings, loaded, err := config.Load(helpers.GetDataDirPath(), configPath)
	if err != nil {
		return settings, loaded, err
	}
	return settings.Merge(flagSettings(cmd)), loaded, nil
}

func addSettingsFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("framework-path", "", "path to the Checker Framework distribution")
	flags.StringSlice("checkers", nil, "checkers to run, either aliases (nullness, interning, ...) or class names")
	flags.StringArray("command-line-options", nil, "extra javac option passed to the worker, may be repeated")
	flags.String("java", config.DefaultJavaPath, "java executable used to run the worker")
	flags.String("worker-jar", "", "jar containing the worker main class")
	flags.String("worker-main", config.DefaultWorkerMain, "worker main class")
	flags.String("config", "", "settings file (yaml, toml or json), watched for changes")
}

// openLogOutput returns the sink of the server logs: the log file of the
// data directory, plus stderr when it is a terminal or in verbose mode.
func openLogOutput(cmd *cobra.Command) (io.Writer, func() error, error) {
	logPath, err := helpers.DataFilePath(LogFileName)
	if err != nil {
		return nil, nil, err
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	var writer io.Writer = logFile
	isVerbose, _ := cmd.Flags().GetBool("verbose")
	if isVerbose || isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		writer = io.MultiWriter(logFile, os.Stderr)
	}

	return writer, logFile.Close, nil
}

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Starts a language server to be consumed by LSP-supported editors",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, configPath, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		logOutput, closeLog, err := openLogOutput(cmd)
		if err != nil {
			return err
		}
		defer closeLog()

		mainLog := log.New(logOutput, "checkerls> ", log.LstdFlags)

		var history *logger.History
		if noHistory, _ := cmd.Flags().GetBool("no-history"); !noHistory {
			if history, err = logger.NewHistory(); err != nil {
				return err
			}
			defer history.Close()
		}

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		metrics, err := telemetry.Setup(metricsAddr, log.New(logOutput, "telemetry> ", 0))
		if err != nil {
			return err
		}
		defer metrics.Shutdown(context.Background())

		server := lsp_server.NewServer(lsp_server.Options{
			Settings:  settings,
			LogOutput: logOutput,
			History:   history,
			Version:   release.Version(),
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		exitCode := 0

		g.Go(func() error {
			// stop the watcher once the client is gone
			defer stop()

			code, err := server.Run(gctx, &rpc.Stream{
				ReadCloser:  os.Stdin,
				WriteCloser: os.Stdout,
			})
			exitCode = code
			return err
		})

		if len(configPath) != 0 {
			overrides := flagSettings(cmd)
			mainLog.Printf("watching %s\n", configPath)

			g.Go(func() error {
				return config.Watch(gctx, configPath, config.DefaultWatchDebounce, mainLog, func(s config.Settings) {
					mainLog.Printf("%s changed, restarting worker\n", configPath)
					if err := server.Reconfigure(gctx, s.Merge(overrides)); err != nil {
						mainLog.Printf("unable to apply %s: %s\n", configPath, err)
					}
				})
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		if exitCode != 0 {
			return fmt.Errorf("client exited without shutdown")
		}
		return nil
	},
}

var workerCommandCmd = &cobra.Command{
	Use:   "worker-command",
	Short: "Prints the command line used to start the worker with the current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, _, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		workerCmd, err := settings.WorkerCommand()
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), workerCmd)
		return nil
	},
}

var checkersCmd = &cobra.Command{
	Use:   "checkers",
	Short: "Lists the checker aliases accepted in the settings",
	Run: func(cmd *cobra.Command, args []string) {
		for _, alias := range config.CheckerAliases() {
			name, _ := config.ResolveChecker(alias)
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", alias, name)
		}
	},
}

func init() {
	addSettingsFlags(lspCmd)
	lspCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address, e.g. localhost:9464")
	lspCmd.Flags().Bool("no-history", false, "do not record checks in the history database")

	addSettingsFlags(workerCommandCmd)

	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(workerCommandCmd)
	rootCmd.AddCommand(checkersCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose mode")
	rootCmd.PersistentFlags().String("data-dir", "", "the directory for settings, logs and history. To override the default directory, set the CHECKERLS_DIR environment variable.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
