// Command filmlocations-server serves the film location API and imports the
// open data set into storage.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sfmovies/filmlocations/internal/config"
	"github.com/sfmovies/filmlocations/internal/logging"
	intOtel "github.com/sfmovies/filmlocations/internal/otel"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "filmlocations-server"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZLogger is handed to the storage and influx managers
	ZLogger zerolog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()
)

func usage(flags *pflag.FlagSet) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <serve|import> [source]\n\n", AppName)
		fmt.Fprintln(os.Stderr, "  serve           serve the location API")
		fmt.Fprintln(os.Stderr, "  import [source] import locations from source (default importer.sourceUrl)")
		fmt.Fprintln(os.Stderr)
		flags.PrintDefaults()
	}
}

func main() {
	flags := pflag.NewFlagSet(AppName, pflag.ExitOnError)
	configDir := flags.String("config", ".", "directory containing "+config.FileName)
	seed := flags.String("import", "", "import this source before serving")
	flags.String("listen", "", "address to listen on")
	flags.String("storage", "", "storage backend: memory, sqlite or postgres")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Usage = usage(flags)
	_ = flags.Parse(os.Args[1:])

	configErr := config.Load(*configDir)
	for key, name := range map[string]string{
		"server.listen": "listen",
		"storage.type":  "storage",
		"logLevel":      "log-level",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}

	closeLogs := setupLogging()
	defer closeLogs()
	if configErr != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		Logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}
	Logger.Info("Starting up", "version", Version, "buildDate", BuildDate)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch flags.Arg(0) {
	case "serve", "":
		err = serve(ctx, *seed)
	case "import":
		err = importCommand(ctx, flags.Arg(1))
	default:
		flags.Usage()
		err = fmt.Errorf("unknown command: %s", flags.Arg(0))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		Logger.Error("Exiting with error", "error", err)
		closeLogs()
		os.Exit(1)
	}
	Logger.Info("Shut down cleanly")
}

// setupLogging wires stdout, the session log file, Graylog and OTel into
// SlogManager and ZLogger. The returned func flushes and closes them.
func setupLogging() func() {
	writers := []io.Writer{os.Stdout}
	logFile, fileErr := logging.OpenLogFile(viper.GetString("logsDir"), AppName, SessionStartTime)
	if fileErr == nil {
		writers = append(writers, logFile)
	}
	out := io.MultiWriter(writers...)

	otelCfg := config.GetOTelConfig()
	var otelErr error
	OTelProvider, otelErr = intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    out,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if otelErr != nil {
		OTelProvider, _ = intOtel.New(intOtel.Config{})
	}

	var opts []logging.SetupOption
	var graylogErr error
	if viper.GetBool("graylog.enabled") {
		gw, err := logging.NewGraylogWriter(viper.GetString("graylog.address"))
		if err != nil {
			graylogErr = err
		} else {
			opts = append(opts, logging.WithGraylog(gw))
			writers = append(writers, gw)
		}
	}

	level := viper.GetString("logLevel")
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(out, level, OTelProvider.LoggerProvider(), opts...)
	Logger = SlogManager.Logger()
	ZLogger = logging.NewZerolog(level, writers...).With().Str("app", AppName).Logger()

	if fileErr != nil {
		Logger.Warn("Failed to open log file, logging to stdout only", "error", fileErr)
	}
	if otelErr != nil {
		Logger.Warn("Failed to initialize OpenTelemetry", "error", otelErr)
	}
	if graylogErr != nil {
		Logger.Warn("Failed to connect to Graylog", "error", graylogErr)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OpenTelemetry", "error", err)
		}
		if logFile != nil {
			_ = logFile.Close()
		}
	}
}
