package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	"github.com/shurcooL/githubv4"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dionisio-bot/dionisio/internal/backport"
	"github.com/dionisio-bot/dionisio/internal/cfg"
	"github.com/dionisio-bot/dionisio/internal/cherrypick"
	"github.com/dionisio-bot/dionisio/internal/dionisio"
	"github.com/dionisio-bot/dionisio/internal/githubclt"
	"github.com/dionisio-bot/dionisio/internal/jira"
	"github.com/dionisio-bot/dionisio/internal/keyqueue"
	"github.com/dionisio-bot/dionisio/internal/logfields"
	"github.com/dionisio-bot/dionisio/internal/provider/github"
	"github.com/dionisio-bot/dionisio/internal/qa"
)

const appName = "dionisio"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func registerServerShutdown(name string, srv *http.Server) {
	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating "+name+" server",
			logfields.Event(name+"_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down "+name+" server failed",
				logfields.Event(name+"_server_termination_failed"),
				zap.Error(err),
			)
		}
	})
}

func startHTTPSServer(listenAddr string, certFile, keyFile string, mux *http.ServeMux) {
	httpsServer := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	registerServerShutdown("https", &httpsServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"https server started",
			logfields.Event("https_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpsServer.ListenAndServeTLS(certFile, keyFile)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("https server terminated", logfields.Event("https_server_terminated"))
			return
		}

		logger.Fatal(
			"https server terminated unexpectedly",
			logfields.Event("https_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) {
	httpServer := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	registerServerShutdown("http", &httpServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/dionisio/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the dionisio configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nEvaluate pull requests and create backports on GitHub webhook events.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)

	err = config.ApplyEnv(context.Background(), envconfig.OsLookuper())
	exitOnErr("could not apply environment variables to configuration", err)

	exitOnErr("invalid configuration", config.Validate())

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustNewQAReconciler(config *cfg.Config, clt *githubclt.Client, retryer *dionisio.Retryer) *qa.Reconciler {
	manifest, err := qa.NewManifestParser(config.QA.ManifestPath, config.QA.VersionQuery)
	exitOnErr("could not parse qa.version_query", err)

	opts := []qa.ReconcilerOpt{
		qa.WithManifestParser(manifest),
		qa.WithGuidelinesURL(config.QA.GuidelinesURL),
	}

	if config.QA.CheckRuns {
		opts = append(opts, qa.WithCheckRuns())
	}

	switch config.QA.AutoMergeMethod {
	case "merge":
		opts = append(opts, qa.WithAutoMerge(githubv4.PullRequestMergeMethodMerge))
	case "squash":
		opts = append(opts, qa.WithAutoMerge(githubv4.PullRequestMergeMethodSquash))
	case "rebase":
		opts = append(opts, qa.WithAutoMerge(githubv4.PullRequestMergeMethodRebase))
	}

	return qa.NewReconciler(clt, retryer, opts...)
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("status_endpoint", config.HTTPStatusEndpoint),
		zap.String("prometheus_metrics_endpoint", config.HTTPMetricsEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.String("command_prefix", config.CommandPrefix),
		zap.String("event_filter", config.EventFilter),
		zap.String("qa.guidelines_url", config.QA.GuidelinesURL),
		zap.String("qa.manifest_path", config.QA.ManifestPath),
		zap.String("qa.version_query", config.QA.VersionQuery),
		zap.Bool("qa.check_runs", config.QA.CheckRuns),
		zap.String("qa.auto_merge_method", config.QA.AutoMergeMethod),
		zap.String("backport.release_workflow", config.Backport.ReleaseWorkflow),
		zap.String("backport.release_workflow_ref", config.Backport.ReleaseWorkflowRef),
		zap.String("jira.base_url", config.Jira.BaseURL),
		zap.String("jira.api_token", hide(config.Jira.APIToken)),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	githubClient := githubclt.New(config.GithubAPIToken)
	queue := keyqueue.New(keyqueue.WithTaskDeferFunc(panicHandler))
	retryer := dionisio.NewRetryer()

	coordinator := backport.NewCoordinator(
		githubClient,
		cherrypick.NewOrchestrator(githubClient),
		queue,
		backport.WithReleaseWorkflow(config.Backport.ReleaseWorkflow, config.Backport.ReleaseWorkflowRef),
		backport.WithCommandPrefix(config.CommandPrefix),
	)

	evLoopOpts := []dionisio.Opt{
		dionisio.WithQueue(queue),
		dionisio.WithRetryer(retryer),
		dionisio.WithCommandPrefix(config.CommandPrefix),
	}

	if config.EventFilter != "" {
		filter, err := dionisio.NewEventFilter(config.EventFilter)
		exitOnErr("could not parse event_filter", err)
		evLoopOpts = append(evLoopOpts, dionisio.WithEventFilter(filter))
	}

	if config.Jira.Enabled() {
		evLoopOpts = append(evLoopOpts, dionisio.WithJira(jira.NewClient(config.Jira.BaseURL, config.Jira.APIToken)))
	}

	evLoop := dionisio.NewEventLoop(
		githubClient,
		mustNewQAReconciler(config, githubClient, retryer),
		coordinator,
		evLoopOpts...,
	)

	go evLoop.Start()

	mux := http.NewServeMux()

	gh := github.New(
		evLoop.C(),
		github.WithPayloadSecret(config.GithubWebHookSecret),
	)

	mux.HandleFunc(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	mux.Handle(config.HTTPMetricsEndpoint, promhttp.Handler())
	logger.Info(
		"registered prometheus metrics http endpoint",
		logfields.Event("metrics_http_handler_registered"),
		zap.String("endpoint", config.HTTPMetricsEndpoint),
	)

	dionisio.NewHTTPService(evLoop, config.CommandPrefix).RegisterHandlers(mux, config.HTTPStatusEndpoint)
	logger.Info(
		"registered status page http endpoint",
		logfields.Event("status_http_handler_registered"),
		zap.String("endpoint", config.HTTPStatusEndpoint),
	)

	if config.HTTPListenAddr != "" {
		startHTTPServer(config.HTTPListenAddr, mux)
	}

	if config.HTTPSListenAddr != "" {
		startHTTPSServer(
			config.HTTPSListenAddr,
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
			mux,
		)
	}

	goodbye.Register(func(context.Context, os.Signal) {
		logger.Debug(
			"stopping event loop",
			logfields.Event("event_loop_stopping"),
		)

		evLoop.Stop()
	})

	select {}
}
