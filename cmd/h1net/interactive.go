package main

import (
	"context"
	"net/netip"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/h1net/internal/app"
	"github.com/1ureka/h1net/internal/config"
	"github.com/1ureka/h1net/internal/util"
)

// runInteractive asks for a role and an address when no subcommand is given.
func runInteractive(ctx context.Context) error {
	pterm.Info.Println("h1net v" + version)
	pterm.Println()

	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server: accept sessions", "Client: connect to a server"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	cfg := config.Default()
	if strings.HasPrefix(role, "Server") {
		cfg.Listen = askAddr("Listen address", cfg.Listen)
		return app.RunServer(ctx, cfg)
	}

	cfg.Role = config.RoleClient
	cfg.Listen = ""
	cfg.Server = askAddr("Server address", "127.0.0.1:1110")
	return app.RunClient(ctx, cfg, 4)
}

// askAddr prompts until a valid ip:port is entered.
func askAddr(prompt, def string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt + " (" + def + ")").
			Show()

		raw = strings.TrimSpace(raw)
		if raw == "" {
			raw = def
		}
		if _, err := netip.ParseAddrPort(raw); err == nil {
			pterm.Println()
			return raw
		}

		util.LogWarning("invalid address: expected ip:port")
		pterm.Println()
	}
}
