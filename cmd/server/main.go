package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/dronehq/chunkup/internal/db"
	"github.com/dronehq/chunkup/internal/server"
	"github.com/dronehq/chunkup/internal/server/auth"
	"github.com/dronehq/chunkup/internal/server/upload"
	"github.com/dronehq/chunkup/internal/utils"
	"github.com/dronehq/chunkup/internal/version"
)

const envPrefix = "CHUNKUP"

var rootCmd = &cobra.Command{
	Use:          "chunkup-server",
	Short:        "Resumable chunked upload server",
	Version:      version.Detailed(),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		closeLogs := setupLogger(cfg.LogDir)
		defer closeLogs()

		srv, err := server.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer slog.Info("bye!")
		return srv.Start(cmd.Context())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Cancel and remove unfinished uploads that have been idle for too long",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		deleteRecords, _ := cmd.Flags().GetBool("delete")
		if olderThan <= 0 {
			return errors.New("--older-than must be positive")
		}

		svc, err := server.OpenServices(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer svc.Shutdown(context.WithoutCancel(cmd.Context()))

		n, err := svc.Upload.Purge(cmd.Context(), olderThan, deleteRecords)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d upload(s) idle since %s\n", n, humanize.Time(time.Now().Add(-olderThan)))
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an access and refresh token pair for a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Auth.Validate(); err != nil {
			return err
		}

		access, refresh, err := auth.NewAuthService(&cfg.Auth).IssueTokens(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "access_token: %s\nrefresh_token: %s\n", access, refresh)
		return nil
	},
}

func init() {
	addConfigFlags(rootCmd)
	purgeCmd.Flags().Duration("older-than", 24*time.Hour, "purge uploads not touched for this long")
	purgeCmd.Flags().Bool("delete", false, "also delete the records of purged uploads")
	rootCmd.AddCommand(configCmd, purgeCmd, tokenCmd)
}

func addConfigFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "f", "", "path to a YAML or JSON config file")
	flags.StringP("bind", "b", server.DefaultAddr, "address to bind the server")
	flags.StringP("cert", "c", "", "path to the TLS certificate file")
	flags.StringP("key", "k", "", "path to the TLS key file")
	flags.String("data-dir", defaultDataDir(), "base directory for staging, final files, the db and logs")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chunkup"
	}
	return filepath.Join(home, ".chunkup")
}

// loadConfig resolves the server config from defaults, the config file, CHUNKUP_* env vars
// and flags, in increasing order of precedence.
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	v := viper.New()

	dataDir, _ := cmd.Flags().GetString("data-dir")
	setDefaults(v, dataDir)

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"http.addr":      "bind",
		"http.cert_file": "cert",
		"http.key_file":  "key",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	var cfg server.Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	return &cfg, nil
}

// every key gets a default so AutomaticEnv can override it during Unmarshal
func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("http.addr", server.DefaultAddr)
	v.SetDefault("http.cert_file", "")
	v.SetDefault("http.key_file", "")
	v.SetDefault("http.rate_limit", server.DefaultRateLimit)

	v.SetDefault("storage.temp_dir", filepath.Join(dataDir, "staging"))
	v.SetDefault("storage.final_dir", filepath.Join(dataDir, "files"))

	v.SetDefault("upload.default_chunk_size", utils.ByteSize(upload.DefaultChunkSize).String())
	v.SetDefault("upload.max_chunk_size", utils.ByteSize(upload.DefaultMaxChunkSize).String())
	v.SetDefault("upload.max_file_size", "0")
	v.SetDefault("upload.max_chunks", upload.DefaultMaxChunks)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_issuer", "chunkup")
	v.SetDefault("auth.refresh_token_secret", "")
	v.SetDefault("auth.refresh_token_expiry", "720h")
	v.SetDefault("auth.access_token_secret", "")
	v.SetDefault("auth.access_token_expiry", "1h")
	v.SetDefault("auth.token_cache_size", 0)

	v.SetDefault("db.driver", db.DriverSqlite)
	v.SetDefault("db.path", filepath.Join(dataDir, "chunkup.db"))
	v.SetDefault("db.dsn", "")

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.bucket_name", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.endpoint", "")

	v.SetDefault("log_dir", filepath.Join(dataDir, "logs"))
}

// setupLogger logs to stdout and, when logDir is set, to a rotated file under it.
func setupLogger(logDir string) func() {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	if logDir == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return func() {}
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "server.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	fileHandler := slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: slog.LevelDebug})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))
	return func() { rotator.Close() }
}
