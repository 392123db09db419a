// h1net: CLI entry point.
//
// Runs either side of the h1emu inter-server session protocol over UDP or a
// WebRTC DataChannel. Without a subcommand it falls back to interactive
// prompts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/h1net/internal/app"
	"github.com/1ureka/h1net/internal/config"
	"github.com/1ureka/h1net/internal/util"
)

var version = "dev"

func main() {
	// Root context: cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "h1net",
		Short: "h1emu session transport",
		Long: `h1net speaks the h1emu inter-server session protocol: a UDP (or
WebRTC DataChannel) transport with a SessionRequest/SessionReply handshake,
keepalive pings and timeout eviction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().String("listen", "", "local UDP address")
	rootCmd.PersistentFlags().String("link", "", "transport link: udp or webrtc")
	rootCmd.PersistentFlags().String("signal", "", "webrtc signaling address (serve) or URL (connect)")
	rootCmd.PersistentFlags().String("admin", "", "admin HTTP address serving /metrics and /debug")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd(), connectCmd(), versionCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, config.RoleServer)
			if err != nil {
				return err
			}
			return app.RunServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().UintSlice("whitelist", nil, "accepted server IDs (default: all)")
	return cmd
}

func connectCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "connect [server]",
		Short: "Open a session and send zone pings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, config.RoleClient)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Server = args[0]
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return app.RunClient(cmd.Context(), cfg, count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 4, "zone pings to send, 0 keeps the session open")
	cmd.Flags().Uint32("server-id", 0, "server ID sent in SessionRequest")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("h1net %s\n", version)
		},
	}
}

// loadConfig reads the config file, if any, and applies flags on top.
func loadConfig(cmd *cobra.Command, role config.Role) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else if role == config.RoleClient {
		cfg.Listen = ""
	}
	cfg.Role = role

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("link") {
		link, _ := flags.GetString("link")
		cfg.Link = config.LinkKind(link)
	}
	if flags.Changed("signal") {
		cfg.Signal, _ = flags.GetString("signal")
	}
	if flags.Changed("admin") {
		cfg.Admin, _ = flags.GetString("admin")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("whitelist") {
		ids, _ := flags.GetUintSlice("whitelist")
		cfg.Whitelist = cfg.Whitelist[:0]
		for _, id := range ids {
			cfg.Whitelist = append(cfg.Whitelist, uint32(id))
		}
	}
	if flags.Changed("server-id") {
		cfg.ServerID, _ = flags.GetUint32("server-id")
	}

	if cfg.Debug {
		util.EnableDebug()
	}
	pterm.Info.Println(fmt.Sprintf("h1net v%s", version))

	if role == config.RoleClient && cfg.Server == "" && cfg.Link == config.LinkUDP {
		// Checked again once the positional server argument is applied.
		return cfg, nil
	}
	return cfg, cfg.Validate()
}
