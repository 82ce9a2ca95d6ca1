// Command filmmap is an interactive film location map client. It reads
// commands from stdin and drives either an in-process map or, with --ws, a
// browser map page through the server's WebSocket relay.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sfmovies/filmlocations/internal/api"
	"github.com/sfmovies/filmlocations/internal/app"
	"github.com/sfmovies/filmlocations/internal/config"
	"github.com/sfmovies/filmlocations/internal/dispatcher"
	"github.com/sfmovies/filmlocations/internal/logging"
	"github.com/sfmovies/filmlocations/internal/rank"
	"github.com/sfmovies/filmlocations/internal/render"
	"github.com/sfmovies/filmlocations/internal/surface/websocket"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var AppName string = "filmmap"

const help = `commands:
  q <text>  search
  s <n>     select suggestion n
  c <n>     click displayed location n
  x         explore a random sample
  ls        list displayed locations
  quit      exit
`

func main() {
	flags := pflag.NewFlagSet(AppName, pflag.ExitOnError)
	configDir := flags.String("config", ".", "directory containing "+config.FileName)
	wsURL := flags.String("ws", "", "drive browser map pages through the server relay at this URL (ws://host:5000/ws/map/client) instead of the terminal map")
	wsSecret := flags.String("ws-secret", "", "relay secret, matching server.relaySecret")
	flags.String("server", "", "location API base URL")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	_ = flags.Parse(os.Args[1:])

	configErr := config.Load(*configDir)
	_ = viper.BindPFlag("api.serverUrl", flags.Lookup("server"))
	_ = viper.BindPFlag("logLevel", flags.Lookup("log-level"))

	if err := run(*wsURL, *wsSecret, configErr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(wsURL, wsSecret string, configErr error) error {
	var logOut io.Writer = os.Stderr
	logFile, err := logging.OpenLogFile(viper.GetString("logsDir"), AppName, time.Now())
	if err == nil {
		logOut = logFile
		defer logFile.Close()
	}

	// set once the app exists; log records and inbound page events may arrive earlier
	var current atomic.Pointer[app.App]
	slogManager := logging.NewSlogManager()
	slogManager.Setup(logOut, viper.GetString("logLevel"), nil, logging.WithContext(func() []slog.Attr {
		if a := current.Load(); a != nil {
			return a.LogAttrs()
		}
		return nil
	}))
	logger := slogManager.Logger()
	if configErr != nil {
		logger.Warn("Failed to load config, using defaults!", "error", configErr)
	}

	out := &printer{out: os.Stdout}
	cfg := app.ConfigFromViper()

	client := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"),
		api.WithTimeout(cfg.Search.RequestTimeout),
		api.WithLogger(logger.With("component", "api-client")),
	)
	hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.Healthcheck(hctx); err != nil {
		logger.Warn("Location API not healthy", "url", viper.GetString("api.serverUrl"), "error", err)
		out.Printf("warning: location API at %s is not reachable\n", viper.GetString("api.serverUrl"))
	}
	hcancel()

	renderer, err := render.New(viper.GetInt("map.popupMaxWidth"))
	if err != nil {
		return fmt.Errorf("loading popup template: %w", err)
	}

	var surface app.Surface
	if wsURL != "" {
		ws := websocket.New(websocket.Config{
			URL:           wsURL,
			Secret:        wsSecret,
			CenterLat:     viper.GetFloat64("map.centerLat"),
			CenterLng:     viper.GetFloat64("map.centerLng"),
			Zoom:          viper.GetInt("map.zoom"),
			PopupMaxWidth: renderer.MaxWidth(),
			Width:         viper.GetInt("map.width"),
			Height:        viper.GetInt("map.height"),
			Inbound: func(e dispatcher.Event) (any, error) {
				a := current.Load()
				if a == nil {
					return nil, errors.New("map client not ready")
				}
				return a.Dispatch(e)
			},
			Logger: logger,
		})
		if err := ws.Connect(); err != nil {
			return fmt.Errorf("connecting to map page relay: %w", err)
		}
		defer ws.Close()
		surface = ws
	} else {
		surface = newConsole(out)
	}

	application, err := app.New(cfg, app.Dependencies{
		API:      client,
		Surface:  surface,
		Renderer: renderer,
		Tracker:  rank.NewHTTPTracker(client),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer application.Close()
	current.Store(application)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Bootstrap(ctx); err != nil {
		return err
	}
	go readCommands(ctx, cancel, application, os.Stdin, out)

	out.Printf("%s", help)
	return application.Run(ctx)
}

// readCommands turns stdin lines into app events until quit or EOF.
func readCommands(ctx context.Context, cancel context.CancelFunc, a *app.App, in io.Reader, out *printer) {
	defer cancel()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		arg = strings.TrimSpace(arg)

		var err error
		switch cmd {
		case "":
			continue
		case "quit", "exit":
			return
		case "ls":
			listDisplayed(a, out)
		case "q":
			_, err = a.Dispatch(dispatcher.Event{Command: app.CommandQuery, Args: []string{arg}})
		case "s":
			_, err = a.Dispatch(dispatcher.Event{Command: app.CommandSelect, Args: []string{arg}})
		case "c":
			err = clickEntry(a, arg)
		case "x":
			_, err = a.Dispatch(dispatcher.Event{Command: app.CommandExplore})
		default:
			out.Printf("%s", help)
		}
		if err != nil {
			out.Printf("error: %v\n", err)
		}
	}
}

func clickEntry(a *app.App, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid location number %q", arg)
	}
	entries := a.Display.Entries()
	if n < 0 || n >= len(entries) {
		return fmt.Errorf("no displayed location %d", n)
	}
	handle := strconv.FormatUint(uint64(entries[n].Marker), 10)
	_, err = a.Dispatch(dispatcher.Event{Command: app.CommandClick, Args: []string{handle}})
	return err
}

func listDisplayed(a *app.App, out *printer) {
	entries := a.Display.Entries()
	if len(entries) == 0 {
		out.Printf("no locations displayed\n")
		return
	}
	for i, e := range entries {
		open := " "
		if e.PopupOpen {
			open = "*"
		}
		out.Printf("%s[%d] %s (%s) - %s\n", open, i, e.Record.Title, e.Record.ReleaseYear, e.Record.LocationText)
	}
}
