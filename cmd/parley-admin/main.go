// ABOUTME: Operator CLI for parley: manage users, mint tokens, inspect and export conversations
// ABOUTME: Works directly on the configured database; no running server required

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/gateway"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/users"
)

var version = "dev"

const banner = `
                       _                  _           _
  _ __   __ _ _ __ ___| | ___ _   _      / \   __| |_ __ ___ (_)_ __
 | '_ \ / _' | '__/ _ \ |/ _ \ | | |    / _ \ / _' | '_ ' _ \| | '_ \
 | |_) | (_| | | |  __/ |  __/ |_| |   / ___ \ (_| | | | | | | | | | |
 | .__/ \__,_|_|  \___|_|\___|\__, |  /_/   \_\__,_|_| |_| |_|_|_| |_|
 |_|                          |___/
`

func main() {
	if err := config.LoadDotEnv(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	a := &app{out: os.Stdout}
	defer a.close()

	if err := newRootCmd(a).Execute(); err != nil {
		color.Red("Error: %v\n", err)
		a.close()
		os.Exit(1)
	}
}

// app holds the services a command works with. They are opened lazily so
// --help and version never touch the database.
type app struct {
	configPath string
	out        io.Writer

	cfg           *config.Config
	store         store.Store
	issuer        auth.TokenIssuer
	users         *users.Directory
	conversations *conversation.Service
}

// open loads the config and builds the services unless they were injected.
func (a *app) open() error {
	if a.store != nil {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := gateway.OpenStore(cfg)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		st.Close()
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	if err := a.wire(cfg, st, verifier); err != nil {
		st.Close()
		return err
	}
	return nil
}

// wire builds the services over an open store.
func (a *app) wire(cfg *config.Config, st store.Store, issuer auth.TokenIssuer) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	directory, err := users.New(st, issuer, users.Config{
		TokenTTL:          cfg.Auth.TokenTTL,
		BcryptCost:        cfg.Auth.BcryptCost,
		AvatarURLTemplate: cfg.Users.AvatarURLTemplate,
		ProfileCacheSize:  cfg.Users.ProfileCacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating user directory: %w", err)
	}

	a.cfg = cfg
	a.store = st
	a.issuer = issuer
	a.users = directory
	a.conversations = conversation.New(st, nil, logger)
	return nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
}

func (a *app) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "parley-admin",
		Short: "Operator CLI for the parley messaging server",
		Long: `parley-admin manages a parley deployment directly through its database.

Examples:
  parley-admin users add --name "Ada" --email ada@example.com
  parley-admin users list
  parley-admin token ada@example.com
  parley-admin conversations ada@example.com
  parley-admin export <conversation-id> --html -o thread.html`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsStore(cmd) {
				return nil
			}
			return a.open()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath(), "Path to the parley config file")

	root.AddCommand(newUsersCmd(a))
	root.AddCommand(newTokenCmd(a))
	root.AddCommand(newConversationsCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(&cobra.Command{
		Use:    "banner",
		Short:  "Print the banner",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			color.New(color.FgCyan).Fprint(a.out, banner)
		},
	})

	return root
}

// needsStore is false for commands that only print, such as help and completion.
func needsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "banner", "completion", cobra.ShellCompRequestCmd:
			return false
		}
	}
	return true
}

// defaultConfigPath mirrors the server's lookup order.
// Priority: PARLEY_CONFIG env var > XDG_CONFIG_HOME/parley/parley.yaml > ~/.config/parley/parley.yaml
func defaultConfigPath() string {
	if envPath := os.Getenv("PARLEY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "parley.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "parley", "parley.yaml")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
