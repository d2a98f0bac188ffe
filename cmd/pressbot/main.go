package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pressbot/internal/audit"
	"pressbot/internal/command"
	"pressbot/internal/config"
	"pressbot/internal/credentials"
	"pressbot/internal/publisher"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logLevel   = new(slog.LevelVar)
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	root := &cobra.Command{
		Use:           "pressbot",
		Short:         "pressbot: publish to WordPress from Telegram",
		Long:          "pressbot is a Telegram bot that creates WordPress posts from chat commands and Markdown attachments.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnv(logger)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.pressbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(postCmd())
	root.AddCommand(uploadCmd())
	root.AddCommand(sitesCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config and applies its log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logLevel.Set(cfg.General.Level())
	return cfg, nil
}

func loadSites(cfg *config.Config) (*credentials.Store, error) {
	sites, err := credentials.Load(cfg.Credentials.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("credentials loaded", "path", sites.Path(), "sites", sites.Len())
	for name, err := range sites.ExpiredTokens(time.Now()) {
		logger.Warn("jwt token problem", "site", name, "err", err)
	}
	return sites, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func postCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <site> <title> | <content>",
		Short: "Create a post from the command line",
		Long:  "Creates a post the same way the /post chat command does. Quote the '|' so the shell passes it through.",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := command.ParsePost(args)
			if err != nil {
				return errors.New(command.UsageText(err))
			}
			return publishFromCLI(cmd.Context(), publisher.NewTextSubmission(parsed.Site, parsed.Title, parsed.Content))
		},
	}
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <site> <file.md> <title...>",
		Short: "Upload a local Markdown file as a post",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[2:], " ")
			return publishFromCLI(cmd.Context(), publisher.NewFileSubmission(args[0], title, args[1]))
		},
	}
}

func publishFromCLI(ctx context.Context, sub publisher.Submission) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sites, err := loadSites(cfg)
	if err != nil {
		return err
	}
	client := publisher.NewClient(publisher.ClientConfig{
		Sites:   sites,
		Timeout: cfg.HTTP.Timeout(),
		Logger:  logger,
	})

	res, err := client.Publish(ctx, sub)
	var pubErr *publisher.Error
	switch {
	case err == nil:
		fmt.Println(command.SuccessText(res.PostID))
		return nil
	case errors.As(err, &pubErr):
		return errors.New(command.RemoteErrorText(pubErr.Message))
	default:
		return errors.New(command.UnexpectedText(err))
	}
}

func sitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List configured WordPress sites (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sites, err := credentials.Load(cfg.Credentials.Path)
			if err != nil {
				return err
			}
			out := make(map[string]credentials.Site, sites.Len())
			for _, name := range sites.Names() {
				site, _ := sites.Lookup(name)
				out[name] = site.Sanitized()
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent publish attempts from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit log is disabled (set audit.enabled in %s)", resolveConfigPath())
			}
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No publish attempts recorded.")
				return nil
			}
			for _, e := range entries {
				postID := e.PostID
				if postID == "" {
					postID = "-"
				}
				fmt.Printf("%s  %-14s %-10s %-4s post=%-6s %q\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Outcome, e.Site, e.Mode, postID, e.Title)
				if e.Error != "" {
					fmt.Printf("    %s\n", e.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. http.timeoutSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("pressbot " + version)
		},
	}
}
