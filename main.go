package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tomaslejdung/peepview/pkg/logging"
	"github.com/tomaslejdung/peepview/pkg/media"
	"github.com/tomaslejdung/peepview/pkg/session"
	"github.com/tomaslejdung/peepview/pkg/settings"
	sig "github.com/tomaslejdung/peepview/pkg/signal"
)

// LocalSignalServer is the URL for local signal server
const LocalSignalServer = "ws://localhost:8080"

// Config holds runtime configuration parsed from the command line
type Config struct {
	ConfigPath string
	SignalURL  string
	Local      bool
	Room       string
	Password   string
	RetryTime  int
	NoAutoLoad bool
	LogLevel   string
	Headless   bool
	ServeMode  bool
	Port       int
	InitConfig bool
	Help       bool

	// TURN server configuration
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// flags given explicitly, so they override the settings file
	set map[string]bool
}

func parseFlags(args []string) (Config, error) {
	config := Config{set: make(map[string]bool)}

	fs := flag.NewFlagSet("peepview", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.ConfigPath, "config", "", "Settings file path")
	fs.StringVar(&config.SignalURL, "signal", "", "Custom signal server URL (overrides default)")
	fs.BoolVar(&config.Local, "local", false, "Use local signal server (ws://localhost:8080)")
	fs.StringVar(&config.Room, "room", "", "Room code to watch")
	fs.StringVar(&config.Password, "password", "", "Room password")
	fs.IntVar(&config.RetryTime, "retry", 0, "Automatic reconnect attempts (negative disables)")
	fs.BoolVar(&config.NoAutoLoad, "no-autoload", false, "Wait for a manual load instead of connecting on start")
	fs.StringVar(&config.LogLevel, "log-level", "", "Log level (trace|debug|info|warn|error)")
	fs.BoolVar(&config.Headless, "headless", false, "Run without the TUI, logging to stderr")

	fs.BoolVar(&config.ServeMode, "serve", false, "Run as signal server only")
	fs.BoolVar(&config.ServeMode, "s", false, "Run as signal server only (shorthand)")
	fs.IntVar(&config.Port, "port", 8080, "Signal server port")
	fs.IntVar(&config.Port, "p", 8080, "Signal server port (shorthand)")

	fs.BoolVar(&config.InitConfig, "init-config", false, "Write the effective settings to the config file and exit")

	fs.StringVar(&config.TURNServer, "turn", "", "TURN server URL (e.g., turn:turn.example.com:3478)")
	fs.StringVar(&config.TURNUser, "turn-user", "", "TURN server username")
	fs.StringVar(&config.TURNPass, "turn-pass", "", "TURN server password")
	fs.BoolVar(&config.ForceRelay, "force-relay", false, "Force TURN relay (disable direct P2P)")

	fs.BoolVar(&config.Help, "help", false, "Show help")
	fs.BoolVar(&config.Help, "h", false, "Show help (shorthand)")

	if err := fs.Parse(args); err != nil {
		return config, err
	}
	if fs.NArg() > 0 && config.Room == "" {
		config.Room = fs.Arg(0)
		config.set["room"] = true
	}

	fs.Visit(func(f *flag.Flag) {
		config.set[f.Name] = true
	})

	return config, nil
}

// apply layers explicitly given flags over the loaded settings
func (c Config) apply(s settings.Settings) settings.Settings {
	if c.set["signal"] {
		s.SignalURL = c.SignalURL
	}
	// --local wins over --signal
	if c.Local {
		s.SignalURL = LocalSignalServer
	}
	if c.set["room"] {
		s.Room = sig.NormalizeRoomCode(c.Room)
	}
	if c.set["password"] {
		s.Password = c.Password
	}
	if c.set["retry"] {
		s.RetryTime = c.RetryTime
	}
	if c.NoAutoLoad {
		s.AutoLoad = false
	}
	if c.set["log-level"] {
		s.LogLevel = c.LogLevel
	}
	if c.set["turn"] {
		s.ICE.TURNServer = c.TURNServer
	}
	if c.set["turn-user"] {
		s.ICE.TURNUser = c.TURNUser
	}
	if c.set["turn-pass"] {
		s.ICE.TURNPass = c.TURNPass
	}
	if c.ForceRelay {
		s.ICE.ForceRelay = true
	}
	return s
}

func printHelp() {
	fmt.Println(`PeepView - WebRTC viewer for shared screens

Usage: peepview [options] [ROOM-CODE]

By default, PeepView connects to the remote signal server at:
  ` + settings.DefaultSignalURL + `

Options:
  --room <code>          Room code to watch (or pass it as the argument)
  --password <pass>      Room password
  --local                Use local signal server (` + LocalSignalServer + `)
  --signal <url>         Custom signal server URL (overrides default)
  --retry <n>            Automatic reconnect attempts (default: 3, negative disables)
  --no-autoload          Do not connect until 'l' is pressed
  --headless             Run without the TUI, logging to stderr
  --log-level <level>    trace, debug, info, warn, error (default: info)
  --config <path>        Settings file (default: $XDG_CONFIG_HOME/peepview/config.toml)
  --init-config          Write the effective settings to the config file and exit
  --serve, -s            Run as signal server only
  --port, -p <port>      Signal server port (default: 8080)
  --help, -h             Show help

Network Options:
  --turn <url>           TURN server URL (e.g., turn:turn.example.com:3478)
  --turn-user <user>     TURN server username
  --turn-pass <pass>     TURN server password
  --force-relay          Force TURN relay (disable direct P2P connections)

Examples:
  peepview QUICK-FROG-42            # Watch a room on the remote signal server
  peepview --local CALM-LAKE-07     # Watch a room on a local signal server
  peepview --serve                  # Run local signal server

TUI Controls:
  r             Reload (new connection)
  l             Load (renegotiate)
  i             Toggle stats panel
  q / ctrl+c    Quit`)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	config, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) || config.Help {
		printHelp()
		return nil
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Server-only mode
	if config.ServeMode {
		return runSignalServer(ctx, config)
	}

	path := config.ConfigPath
	if path == "" {
		path, err = settings.DefaultPath()
		if err != nil {
			return err
		}
	}

	base, loadErr := settings.Load(path)
	s := config.apply(base)
	if err := s.Validate(); err != nil {
		return err
	}

	if config.InitConfig {
		if err := settings.Save(path, s); err != nil {
			return err
		}
		fmt.Printf("Settings written to %s\n", path)
		return nil
	}

	if s.Room == "" {
		return errors.New("no room given: pass a room code or set room in " + path)
	}
	if !sig.ValidateRoomCode(s.Room) {
		return fmt.Errorf("invalid room code %q (expected ADJECTIVE-NOUN-NN)", s.Room)
	}

	if config.Headless {
		logger, err := logging.New(s.LogLevel, os.Stderr)
		if err != nil {
			return err
		}
		if loadErr != nil {
			logger.WithFields(logrus.Fields{
				"function": "run",
				"error":    loadErr,
			}).Warn("Using default settings")
		}
		return runHeadless(ctx, s, logger)
	}

	return RunTUI(ctx, s, loadErr)
}

func runSignalServer(ctx context.Context, config Config) error {
	level := config.LogLevel
	logger, err := logging.New(level, os.Stderr)
	if err != nil {
		return err
	}

	server := sig.NewServer(logger)
	addr := fmt.Sprintf(":%d", config.Port)

	fmt.Printf("Starting signal server on http://localhost%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	return server.ListenAndServe(ctx, addr)
}

// newSession wires the pion transport, the websocket signaling and the
// player into a session
func newSession(ctx context.Context, s settings.Settings, logger logrus.FieldLogger, player *media.Player, onStatus func(session.Status), onError func(error)) (*session.Session, error) {
	factory, err := session.NewPionFactory(session.ICEConfig{
		STUNServers: s.ICE.STUNServers,
		TURNServer:  s.ICE.TURNServer,
		TURNUser:    s.ICE.TURNUser,
		TURNPass:    s.ICE.TURNPass,
		ForceRelay:  s.ICE.ForceRelay,
	}, logging.NewPionFactory(logger))
	if err != nil {
		return nil, err
	}

	return session.New(ctx, session.Options{
		Sink:         player,
		AutoLoad:     s.AutoLoad,
		RetryTime:    s.RetryTime,
		GetRemoteSDP: sig.NewOfferExchanger(s.SignalURL, s.Room, s.Password),
		NewTransport: factory,
		Logger:       logger,
		OnStatus:     onStatus,
		OnError:      onError,
	})
}

func runHeadless(ctx context.Context, s settings.Settings, logger *logrus.Logger) error {
	player := media.NewPlayer(logger)
	defer player.Close()

	log := logger.WithFields(logrus.Fields{
		"room":   s.Room,
		"signal": s.SignalURL,
	})

	sess, err := newSession(ctx, s, logger, player,
		func(status session.Status) {
			log.WithField("status", status).Info("Session status changed")
		},
		func(err error) {
			log.WithField("error", err).Error("Session error")
		})
	if err != nil {
		return err
	}
	defer sess.Destroy()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			return nil
		case <-ticker.C:
			for _, stat := range player.Stats() {
				log.WithFields(logrus.Fields{
					"track":   stat.TrackID,
					"kind":    stat.Kind,
					"codec":   stat.Codec,
					"kbps":    fmt.Sprintf("%.0f", stat.Bitrate),
					"packets": stat.Packets,
					"lost":    stat.Lost,
				}).Debug("Track stats")
			}
		}
	}
}
