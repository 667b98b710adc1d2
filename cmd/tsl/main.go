package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/chat"
	"github.com/TalkShopLive/go-sdk/internal/config"
	"github.com/TalkShopLive/go-sdk/internal/version"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/sdk"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the parsed command line.
type options struct {
	cfg     *config.Config
	jwt     string
	command string
	showKey string
}

func run(argv []string, stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts, err := parseFlags(cfg, argv, stdout)
	if err != nil || opts == nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	switch opts.command {
	case "help":
		printUsage(stdout)
		return nil
	case "version":
		fmt.Fprintln(stdout, version.UserAgent())
		return nil
	case "status", "details", "chat", "share":
	default:
		printUsage(stdout)
		return fmt.Errorf("unknown command %q", opts.command)
	}

	if opts.showKey == "" {
		return fmt.Errorf("%s: missing show key (argument or TSL_SHOW_KEY)", opts.command)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := sdk.NewClient(cfg.ClientKey, sdk.Options{
		TestMode:    cfg.TestMode,
		Debug:       cfg.Debug,
		DoNotTrack:  cfg.DoNotTrack,
		HTTPTimeout: cfg.HTTPTimeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if opts.command == "share" {
		// Sharing is an offline operation.
		return share(stdout, client.Show().WatchURL(opts.showKey))
	}

	if err := client.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	logger.Debugf("initialized against %s", client.Endpoints().BaseURL)

	switch opts.command {
	case "status":
		st, err := client.Show().GetStatus(ctx, opts.showKey)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "status: %s\n", st.Status)
		if st.StreamURL != "" {
			fmt.Fprintf(stdout, "stream: %s\n", st.StreamURL)
		}
		return nil

	case "details":
		d, err := client.Show().GetDetails(ctx, opts.showKey)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s (%s)\n", d.Name, d.Status)
		if d.Description != "" {
			fmt.Fprintln(stdout, d.Description)
		}
		if d.AirDate != nil {
			fmt.Fprintf(stdout, "airs: %s\n", d.AirDate.Local().Format(time.RFC1123))
		}
		return nil

	default:
		return chatLoop(ctx, client, opts, stdin, stdout)
	}
}

func parseFlags(cfg *config.Config, argv []string, stdout io.Writer) (*options, error) {
	fs := pflag.NewFlagSet("tsl", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	clientKey := fs.String("client-key", "", "SDK client key (overrides TSL_CLIENT_KEY)")
	testMode := fs.Bool("test-mode", cfg.TestMode, "use the staging environment")
	debug := fs.BoolP("debug", "d", cfg.Debug, "enable debug logging and strict decoding")
	doNotTrack := fs.Bool("do-not-track", cfg.DoNotTrack, "disable analytics")
	logLevel := fs.String("log-level", cfg.LogLevel, "trace|debug|info|warn|error")
	timeout := fs.Duration("timeout", cfg.HTTPTimeout, "per-request HTTP timeout")
	jwt := fs.String("jwt", "", "chat as the user this JWT asserts instead of as a guest")
	showHelp := fs.BoolP("help", "h", false, "show help")

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stdout)
			return nil, nil
		}
		return nil, err
	}
	if *showHelp {
		printUsage(stdout)
		return nil, nil
	}

	if *clientKey != "" {
		cfg.ClientKey = *clientKey
	}
	cfg.TestMode = *testMode
	cfg.Debug = *debug
	cfg.DoNotTrack = *doNotTrack
	cfg.LogLevel = *logLevel
	if cfg.Debug && !fs.Changed("log-level") && cfg.LogLevel == "info" {
		cfg.LogLevel = "debug"
	}
	cfg.HTTPTimeout = *timeout

	opts := &options{cfg: cfg, jwt: *jwt, command: "help", showKey: cfg.ShowKey}
	args := fs.Args()
	if len(args) > 0 {
		opts.command = args[0]
	}
	if len(args) > 1 {
		opts.showKey = args[1]
	}
	return opts, nil
}

// chatLoop prints chat events and publishes each stdin line until stdin
// closes or ctx is done.
func chatLoop(ctx context.Context, client *sdk.Client, opts *options, stdin io.Reader, stdout io.Writer) error {
	if err := client.Chat().Connect(ctx, opts.showKey, sdk.Identity{JWT: opts.jwt}); err != nil {
		return fmt.Errorf("connect chat: %w", err)
	}
	defer client.Chat().Disconnect()

	unsubscribe, err := client.Chat().Subscribe(func(ev chat.Event) {
		printEvent(stdout, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe chat: %w", err)
	}
	defer unsubscribe()

	fmt.Fprintf(stdout, "joined %s as %s, type to chat, Ctrl+D to leave\n", opts.showKey, client.CurrentToken().UserID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, err := client.Chat().Publish(ctx, line); err != nil {
				logger.Warnf("publish failed: %v", err)
			}
		}
	}
}

func printEvent(w io.Writer, ev chat.Event) {
	switch e := ev.(type) {
	case chat.MessageEvent:
		fmt.Fprintf(w, "[%s] %s: %s\n", e.Message.SentAt.Local().Format(time.Kitchen), e.Message.UserID, e.Message.Text)
	case chat.SignalEvent:
		logger.Debugf("signal %s on %s", e.Name, e.Channel)
	case chat.PresenceChangedEvent:
		fmt.Fprintf(w, "* %s %s (%d watching)\n", e.UserID, e.Action, e.Occupancy)
	case chat.ConnectionChangedEvent:
		logger.Infof("chat %s", e.State)
	case chat.ErrorEvent:
		logger.Warnf("chat error: %v", e.Err)
	}
}

// share prints a QR code for url to the terminal.
func share(w io.Writer, url string) error {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("generate QR code: %w", err)
	}
	fmt.Fprintln(w, qr.ToSmallString(false))
	fmt.Fprintln(w, url)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `tsl - TalkShopLive command line client

Usage:
  tsl status <show>    Print the live status of a show
  tsl details <show>   Print show details
  tsl chat <show>      Join the show chat; each stdin line is published
  tsl share <show>     Print a QR code for the show page
  tsl version          Print version information

Environment Variables:
  TSL_CLIENT_KEY     SDK client key
  TSL_TEST_MODE      Use staging (true/1)
  TSL_DEBUG, DEBUG   Enable debug logging (true/1)
  TSL_DO_NOT_TRACK   Disable analytics (true/1)
  TSL_LOG_LEVEL      trace|debug|info|warn|error (default: info)
  TSL_HTTP_TIMEOUT   Per-request timeout (default: 15s)
  TSL_SHOW_KEY       Default show key

Flags:
  --client-key       SDK client key
  --test-mode        Use staging
  -d, --debug        Debug logging
  --do-not-track     Disable analytics
  --log-level        Log level
  --timeout          Per-request timeout
  --jwt              Chat as a federated user`)
}
