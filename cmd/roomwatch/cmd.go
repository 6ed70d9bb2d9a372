package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/truthdare-live/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "TRUTHDARE"

func newCmd() *cobra.Command {
	cfg := config.Default()
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "roomwatch",
		Short:         "Join a truth-or-dare room and follow its state live.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return watch(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&cfg.Origin, "origin", cfg.Origin, "site the game is served from (env: TRUTHDARE_ORIGIN)")
	pfs.StringVar(&cfg.APIURL, "api-url", "", "REST base url, overrides <origin>/api (env: TRUTHDARE_API_URL)")
	pfs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "timeout for each REST call (env: TRUTHDARE_FETCH_TIMEOUT)")
	pfs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log debug output (env: TRUTHDARE_VERBOSE)")

	fs := cmd.Flags()
	fs.StringVar(&cfg.PushURL, "push-url", "", "push endpoint, overrides origin derivation (env: TRUTHDARE_PUSH_URL)")
	fs.StringVarP(&cfg.RoomCode, "room", "r", "", "room code to join (env: TRUTHDARE_ROOM)")
	fs.StringVar(&cfg.PlayerID, "player-id", "", "existing player id to watch as (env: TRUTHDARE_PLAYER_ID)")
	fs.StringVarP(&cfg.PlayerName, "name", "n", "", "join the room under this name (env: TRUTHDARE_NAME)")
	fs.BoolVar(&cfg.Create, "create", false, "create a new room and watch it as its admin (env: TRUTHDARE_CREATE)")
	fs.StringVar(&cfg.GameMode, "mode", cfg.GameMode, "game mode for --create (env: TRUTHDARE_MODE)")
	fs.StringVar(&cfg.Backoff, "backoff", cfg.Backoff, "reconnect policy, constant or exponential (env: TRUTHDARE_BACKOFF)")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "delay before reconnecting (env: TRUTHDARE_RETRY_DELAY)")
	fs.DurationVar(&cfg.MaxRetryDelay, "max-retry-delay", cfg.MaxRetryDelay, "cap for exponential backoff (env: TRUTHDARE_MAX_RETRY_DELAY)")
	fs.DurationVar(&cfg.HeartBeat, "heartbeat", cfg.HeartBeat, "STOMP heart-beat interval (env: TRUTHDARE_HEARTBEAT)")
	fs.StringVar(&cfg.StatusAddr, "status-addr", "", "serve /healthz, /readyz, /state and /metrics here (env: TRUTHDARE_STATUS_ADDR)")
	fs.StringVar(&cfg.JournalDSN, "journal-dsn", "", "postgres DSN to journal every snapshot into (env: TRUTHDARE_JOURNAL_DSN)")
	fs.BoolVar(&cfg.QR, "qr", false, "print a QR code of the join link (env: TRUTHDARE_QR)")

	cmd.AddCommand(newActionCmds(&cfg, v)...)
	cmd.AddCommand(newHistoryCmd(&cfg, v))

	bindEnv(v, pfs)
	bindEnv(v, fs)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("roomwatch v{{.Version}}\n")
	return cmd
}

// bindEnv lets TRUTHDARE_* variables fill any flag not given on the command
// line.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
