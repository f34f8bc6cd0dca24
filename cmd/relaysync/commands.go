package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/relaysync/internal/app"
	"github.com/1ureka/relaysync/internal/devrelay"
	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/relay"
	"github.com/1ureka/relaysync/internal/util"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	var accept bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the active peer and print every tutorial state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := root.appOptions(cmd)
			if err != nil {
				return err
			}
			w, err := app.NewWatcher(opts, accept)
			if err != nil {
				return err
			}
			banner("watch", opts)
			startStats(cmd, root)
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&accept, "accept-offers", false, "accept control offers instead of declining them")
	return cmd
}

func newDriveCommand(root *rootOptions) *cobra.Command {
	var initial protocol.TutorialState

	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Drive the shared tutorial state from commands on stdin",
		Long:  "Drive the shared tutorial state from commands on stdin.\n\nType \"help\" once connected for the command list.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := root.appOptions(cmd)
			if err != nil {
				return err
			}
			d, err := app.NewDriver(opts, initial)
			if err != nil {
				return err
			}
			banner("drive", opts)
			startStats(cmd, root)
			return d.Run(cmd.Context(), os.Stdin)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&initial.TutorialID, "tutorial", "", "initial tutorial id")
	flags.StringVar(&initial.TutorialTitle, "title", "", "initial tutorial title")
	flags.IntVar(&initial.TotalSteps, "steps", 0, "initial total steps")
	flags.StringVar(&initial.RepoURL, "repo", "", "initial repository url")
	return cmd
}

func newCreateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a session through the relay's session endpoint and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := root.appOptions(cmd)
			if err != nil {
				return err
			}
			info, err := relay.New(opts.Config, nil).Session.Create(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(info.ID)
			return nil
		},
	}
}

func newDevRelayCommand(opts *rootOptions) *cobra.Command {
	var listen, sessionPath string

	cmd := &cobra.Command{
		Use:   "dev-relay",
		Short: "Run a local relay for development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server := devrelay.NewServer(sessionPath)
			server.ICEServers = opts.ice
			addr, err := server.Start(listen)
			if err != nil {
				return err
			}
			defer server.Close()

			pterm.DefaultBox.WithTitle("Dev Relay").Println(fmt.Sprintf(
				"WebSocket : ws://%s/ws\nWebRTC    : ws://%s/rtc\nSessions  : http://%s%s",
				addr, addr, addr, sessionPath))
			util.LogInfo("press Ctrl+C to stop")
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&sessionPath, "session-path", "/api/sessions", "HTTP path of the session endpoint")
	return cmd
}

func banner(role string, opts app.Options) {
	pterm.Info.Println(fmt.Sprintf("Relaysync v%s", version))
	session := opts.Config.SessionID
	if session == "" {
		session = "(assigned by relay)"
	}
	pterm.DefaultTable.WithData(pterm.TableData{
		{"Role", role},
		{"Relay", opts.Config.ServerURL},
		{"Session", session},
		{"Transport", opts.Transport},
	}).Render()
	pterm.Println()
}

func startStats(cmd *cobra.Command, root *rootOptions) {
	if root.stats > 0 {
		util.StartStatsReporter(cmd.Context(), root.stats)
	}
}
