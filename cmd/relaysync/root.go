package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/relaysync/internal/app"
	"github.com/1ureka/relaysync/internal/config"
	"github.com/1ureka/relaysync/internal/util"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath  string
	server      string
	session     string
	transport   string
	ice         []string
	noReconnect bool
	debug       bool
	stats       time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "relaysync",
		Short:         "Relaysync: tutorial state sync over a relay",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debug {
				util.EnableDebug()
			}
		},
	}

	opts.bindFlags(cmd)

	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newDriveCommand(opts))
	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newDevRelayCommand(opts))
	return cmd
}

// bindFlags registers the global flags on cmd.
func (o *rootOptions) bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "TOML config file")
	flags.StringVarP(&o.server, "server", "s", "", "relay WebSocket URL (overrides the config file)")
	flags.StringVar(&o.session, "session", "", "session id to join")
	flags.StringVar(&o.transport, "transport", app.TransportWebSocket, "transport: ws or webrtc")
	flags.StringSliceVar(&o.ice, "ice", nil, "STUN server URLs for the webrtc transport")
	flags.BoolVar(&o.noReconnect, "no-reconnect", false, "disable automatic reconnection")
	flags.BoolVar(&o.debug, "debug", false, "enable debug logging")
	flags.DurationVar(&o.stats, "stats", 0, "print frame statistics at this interval (0 disables)")
}

// appOptions resolves the effective configuration: defaults, then the
// config file, then flags.
func (o *rootOptions) appOptions(cmd *cobra.Command) (app.Options, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return app.Options{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		path := "/ws"
		if o.transport == app.TransportWebRTC {
			path = "/rtc"
		}
		u, err := normalizeWSURL(o.server, path)
		if err != nil {
			return app.Options{}, err
		}
		cfg.ServerURL = u
	}
	if flags.Changed("session") {
		cfg.SessionID = o.session
	}
	if o.noReconnect {
		cfg.DisableReconnect = true
	}
	if err := cfg.Validate(); err != nil {
		return app.Options{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return app.Options{Config: cfg, Transport: o.transport, ICEServers: o.ice}, nil
}

// normalizeWSURL validates a relay URL. Bare hosts get wss://, and a missing
// path becomes defaultPath.
func normalizeWSURL(raw, defaultPath string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid WebSocket URL scheme: %s", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultPath
	}
	return u.String(), nil
}
