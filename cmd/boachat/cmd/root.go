package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/moduspwnens/boa-chat/boachat"
	"github.com/moduspwnens/boa-chat/boachat/credentials"
)

var (
	version = "dev"
	commit  = "unknown"
)

var flags struct {
	configPath  string
	apiURL      string
	metricsAddr string
	verbose     bool
}

// env is built once per invocation by setup.
var env struct {
	fs         afero.Fs
	cfg        *fileConfig
	log        zerolog.Logger
	registry   *prometheus.Registry
	metrics    *boachat.Metrics
	metricsSrv *http.Server
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "boachat",
	Short: "Command line client for boa-chat",
	Long: `boachat talks to a boa-chat deployment: manage your account, create
rooms, and join them from the terminal.

Configuration is read from ~/.boachat/config.yaml (or --config), then .env,
then BOACHAT_* environment variables, then flags.`,
	Version:            fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (default is $HOME/.boachat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.apiURL, "api", "", "API base URL, including the stage path")
	rootCmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
}

func setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")

	env.fs = afero.NewOsFs()
	cfg, err := loadFileConfig(env.fs, flags.configPath)
	if err != nil {
		return err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return err
	}
	if cmd.Flags().Changed("api") {
		cfg.APIURL = flags.apiURL
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	env.cfg = cfg
	env.log = newLogger(os.Stderr, cfg.LogFormat, flags.verbose)

	env.registry = prometheus.NewRegistry()
	env.metrics = boachat.NewMetrics(env.registry)
	if cfg.MetricsAddr != "" {
		startMetrics(cfg.MetricsAddr)
	}
	return nil
}

func teardown(*cobra.Command, []string) error {
	if env.metricsSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return env.metricsSrv.Shutdown(ctx)
}

func startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(env.registry, promhttp.HandlerOpts{}))
	env.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		env.log.Info().Str("addr", addr).Msg("serving metrics")
		if err := env.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// newLogger builds a console logger, or a JSON one when format is "json".
func newLogger(w io.Writer, format string, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if format == "json" {
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func credentialStore() *credentials.FileStore {
	return credentials.NewFileStore(env.fs, env.cfg.credentialsPath())
}

// newClient builds an SDK client on the configured credential file.
func newClient() (*boachat.Client, error) {
	cfg, err := env.cfg.sdkConfig()
	if err != nil {
		return nil, err
	}
	cfg.Store = credentialStore()
	cfg.Metrics = env.metrics

	client, err := boachat.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	client.SetLogger(boachat.NewZerologLogger(env.log))
	return client, nil
}

// withClient runs fn with a fresh client and closes it afterwards.
func withClient(fn func(*boachat.Client) error) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}
