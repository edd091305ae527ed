package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"fbharvest-backend/lib/configutil"
	"fbharvest-backend/lib/restyutil"
	"fbharvest-backend/lib/scrapers/fb/core"
	"fbharvest-backend/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

type Config struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// the session file written by login and read by the crawl commands
	Session string `json:"session"`
	// dumps every exchange under .dev/resty when set
	Debug bool `json:"debug"`
}

func sessionPath(cfg Config) string {
	if cfg.Session != "" {
		return cfg.Session
	}
	return "session.json"
}

func newClient(ctx context.Context, cfg Config) *core.Client {
	if cfg.Debug {
		core.SetInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/fbharvest"))
	}
	client, err := core.NewClient(ctx, core.ClientOptions{})
	if err != nil {
		serviceutil.Fatal("failed to initialize client", err)
	}
	return client
}

// restoreSession loads the saved cookies into a fresh client. Fatal when
// the session file is missing, login has to run first.
func restoreSession(ctx context.Context, cfg Config) *core.Client {
	contents, err := os.ReadFile(sessionPath(cfg))
	if err != nil {
		serviceutil.Fatal("failed to read session file, run login first", err)
	}
	var cookies map[string]string
	if err := json.Unmarshal(contents, &cookies); err != nil {
		serviceutil.Fatal("failed to parse session file", err)
	}

	client := newClient(ctx, cfg)
	client.SetCookies(cookies)
	slog.Info("restored session", "uid", core.UserIdFromCookies(cookies))
	return client
}

func promptOtp() string {
	fmt.Print("one-time code: ")
	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		serviceutil.Fatal("failed to read one-time code", err)
	}
	return strings.TrimSpace(code)
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Logs in with the credentials from config.json5 and saves the session.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		ctx := cmd.Context()
		client := newClient(ctx, cfg)

		err = client.Login(ctx, cfg.Email, cfg.Password)
		if errors.Is(err, core.ErrTwoFactorRequired) {
			slog.Info("account requires a one-time code")
			err = client.SubmitOtp(ctx, promptOtp())
		}
		// an already-authenticated jar is still a session worth saving
		if err != nil && !errors.Is(err, core.ErrAlreadyLoggedIn) {
			serviceutil.Fatal("login failed", err)
		}

		contents, err := json.MarshalIndent(client.Cookies(), "", "  ")
		if err != nil {
			serviceutil.Fatal("failed to serialize session", err)
		}
		err = os.WriteFile(sessionPath(cfg), contents, 0o600)
		if err != nil {
			serviceutil.Fatal("failed to write session file", err)
		}

		slog.Info("logged in", "uid", client.SessionUserId(), "session", sessionPath(cfg))
	},
}
