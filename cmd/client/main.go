package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	_ "github.com/joho/godotenv/autoload"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dronehq/chunkup/internal/uploadsdk"
	"github.com/dronehq/chunkup/internal/version"
)

const defaultServerURL = "http://127.0.0.1:8080"

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chunkup",
		Short:         "Upload large files to a chunkup server",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("server", "s", defaultServerURL, "chunkup server url")
	flags.String("token", "", "access token")
	flags.String("refresh-token", "", "refresh token, used to obtain access tokens")
	flags.String("owner", "", "owner id, only honoured by servers running without auth")
	flags.BoolP("verbose", "v", false, "debug logging")

	cmd.AddCommand(newUploadCmd(), newStatusCmd(), newCancelCmd(), newVersionCmd())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

// newClient builds an SDK client from flags, falling back to CHUNKUP_* environment variables.
func newClient(cmd *cobra.Command) (*uploadsdk.Client, error) {
	v := viper.New()
	v.SetEnvPrefix("CHUNKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"server", "token", "refresh-token", "owner", "verbose"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return nil, err
		}
	}

	setupLogger(v.GetBool("verbose"))

	return uploadsdk.New(&uploadsdk.Config{
		ServerURL:    v.GetString("server"),
		AccessToken:  v.GetString("token"),
		RefreshToken: v.GetString("refresh-token"),
		OwnerID:      v.GetString("owner"),
	})
}

func setupLogger(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})))
}
