// Command petfinder-collector collects Petfinder animal listings into CSV
// files, one partition (US state) at a time, resuming where the last run
// stopped.
//
// Exit codes: 0 finished, 1 aborted (or usage error), 2 paused because the
// daily quota ran out.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/Sternrassler/petfinder-collector/pkg/config"
	"github.com/Sternrassler/petfinder-collector/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var version = "0.1.0"

const (
	exitOK      = 0
	exitAborted = 1
	exitPaused  = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// app holds what every command needs once the configuration is loaded.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger zerolog.Logger
	closer io.Closer

	stdout io.Writer
	stderr io.Writer

	configFile string
	envFile    string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	a := &app{v: config.New(), stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if a.closer != nil {
		a.closer.Close()
	}
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitAborted
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "petfinder-collector",
		Short: "Resumable, quota-aware collector for Petfinder animal listings",
		Long: `petfinder-collector pulls animal listings from the Petfinder v2 API for every
US state (Nevada as a list of ZIP codes), writes them to CSV files and records
progress after every page. When the daily quota runs out the run pauses;
running the same command again continues where it stopped.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Path to a YAML config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "Path to a .env file (ignored if missing)")
	flags.String("type", "", "Animal type to collect (default cat)")
	flags.String("status", "", "Listing status: adoptable, adopted or found (default adopted)")
	flags.StringSlice("partitions", nil, "Partitions to process, e.g. CA,NV (default all US states and DC)")
	flags.String("output-dir", "", "Directory for CSV output (default data)")
	flags.String("progress-backend", "", "Progress store: file, redis or postgres (default file)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (default info)")
	flags.Bool("log-pretty", false, "Human-readable console logs")
	flags.String("log-file", "", "Also append JSON logs to this file")

	a.bind(flags.Lookup("type"), "collection.animal_type")
	a.bind(flags.Lookup("status"), "collection.status")
	a.bind(flags.Lookup("partitions"), "collection.partitions")
	a.bind(flags.Lookup("output-dir"), "output.dir")
	a.bind(flags.Lookup("progress-backend"), "progress.backend")
	a.bind(flags.Lookup("log-level"), "log.level")
	a.bind(flags.Lookup("log-pretty"), "log.pretty")
	a.bind(flags.Lookup("log-file"), "log.file")

	root.AddCommand(a.collectCmd(), a.statusCmd(), a.resetCmd(), a.combineCmd(), a.versionCmd())
	return root
}

func (a *app) bind(flag *pflag.Flag, key string) {
	if err := a.v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// setup loads the configuration and the logger before any command runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	if err := config.ReadFile(a.v, a.configFile); err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := cfg.Logging()
	logCfg.Output = a.stderr
	logger, closer, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.closer = closer
	return nil
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// No configuration needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "petfinder-collector v%s\n", version)
			fmt.Fprintf(a.stdout, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(a.stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
