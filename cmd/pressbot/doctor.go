package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"pressbot/internal/config"
	"pressbot/internal/credentials"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your pressbot setup",
		Long: `Verifies that pressbot's configuration, bot token, site credentials,
and audit database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("pressbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 2. Bot token
			if err := config.RequireToken(cfg); err != nil {
				printFail("Bot token", err.Error())
				failed++
			} else {
				printPass("Bot token", config.MaskString(cfg.Telegram.Token))
				passed++
			}

			// 3. Credentials and per-site auth
			sites, err := credentials.Load(cfg.Credentials.Path)
			if err != nil {
				printFail("Credentials", err.Error())
				failed++
			} else {
				printPass("Credentials", fmt.Sprintf("%s (%d sites)", sites.Path(), sites.Len()))
				passed++
				if sites.Len() == 0 {
					printWarn("Sites", "credentials file has no sites")
					warned++
				}
				p, w, f := checkSites(sites, time.Now())
				passed, warned, failed = passed+p, warned+w, failed+f
			}

			// 4. Audit database
			if cfg.Audit.Enabled {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					printFail("Audit database", err.Error())
					failed++
				} else {
					printPass("Audit database", cfg.Audit.DBPath)
					passed++
				}
			}

			// 5. Ops server port
			if cfg.Metrics.Enabled {
				if err := checkPort(cfg.Metrics.Addr()); err != nil {
					printWarn("Metrics port", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr(), err))
					warned++
				} else {
					printPass("Metrics port", cfg.Metrics.Addr()+" available")
					passed++
				}
			}

			// 6. Temp dir writable
			tempDir := cfg.General.TempDir
			if tempDir == "" {
				tempDir = os.TempDir()
			}
			if err := checkWritableDir(tempDir); err != nil {
				printFail("Temp dir", err.Error())
				failed++
			} else {
				printPass("Temp dir", tempDir)
				passed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running pressbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\npressbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! pressbot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkSites validates each site's URL and auth settings.
func checkSites(sites *credentials.Store, now time.Time) (passed, warned, failed int) {
	expired := sites.ExpiredTokens(now)
	for _, name := range sites.Names() {
		site, _ := sites.Lookup(name)
		label := "Site: " + name

		u, err := url.Parse(site.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			printFail(label, fmt.Sprintf("invalid base_url %q", site.BaseURL))
			failed++
			continue
		}
		if _, err := site.ResolveAuth(); err != nil {
			printFail(label, err.Error())
			failed++
			continue
		}
		if err, ok := expired[name]; ok {
			printWarn(label, err.Error())
			warned++
			continue
		}
		if u.Scheme != "https" {
			printWarn(label, "credentials sent over plain http")
			warned++
			continue
		}
		printPass(label, site.AuthMethod+" "+site.BaseURL)
		passed++
	}
	return passed, warned, failed
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkWritableDir(dir string) error {
	f, err := os.CreateTemp(dir, "pressbot-doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
