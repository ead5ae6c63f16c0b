package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/config"
	"github.com/kai-familiar/marmot-cli/internal/hook"
	"github.com/kai-familiar/marmot-cli/pkg/logger"
)

const rootLong = `marmot-hook holds the programs marmot-cli runs with --on-message.

The engine starts one handler process per received message, writes the
notification as a single JSON object to its stdin and closes it. Handlers exit
0 on success, 65 on malformed input, 69 when their downstream failed and 78 when
they are misconfigured. A failed message is never redelivered.

Handler settings come from the environment (optionally loaded from --env-file);
flags override them. The notification is always read first: a forwarding
handler checks its settings only for a message it forwards, so a skipped
message exits 0 even when the handler is misconfigured. Logs go to stderr,
stdout is left to the handler.`

type rootOptions struct {
	envFile     string
	logLevel    string
	includeSelf bool
	inputLimit  int64

	cfg *config.Handler
	log *zap.Logger
}

func NewRootCommand() *cobra.Command {
	o := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "marmot-hook",
		Short:         "On-message handlers and notification relays for marmot-cli",
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if o.log != nil {
				_ = o.log.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&o.envFile, "env-file", "", "load environment variables from this file first")
	pf.StringVar(&o.logLevel, "log-level", "", "log level on stderr (env MARMOT_HOOK_LOG_LEVEL, default warn)")
	pf.BoolVar(&o.includeSelf, "include-self", false, "forward messages sent by this identity too (env MARMOT_HOOK_INCLUDE_SELF)")
	pf.Int64Var(&o.inputLimit, "input-limit", 0, "maximum notification size in bytes (env MARMOT_HOOK_INPUT_LIMIT)")

	cmd.AddCommand(
		newLogCommand(o),
		newWebhookCommand(o),
		newEchoCommand(o),
		newKafkaCommand(o),
		newRedisCommand(o),
		newArchiveCommand(o),
		newMongoCommand(o),
		newIndexCommand(o),
		newMailCommand(o),
		newRelayCommand(o),
		newInboxCommand(o),
		newBunkerCommand(o),
		newSignerStatusCommand(o),
	)

	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.LoadHandler(o.envFile)
	if err != nil {
		return apperrors.Config(err)
	}

	override(cmd, "log-level", &cfg.LogLevel, o.logLevel)
	override(cmd, "include-self", &cfg.IncludeSelf, o.includeSelf)
	override(cmd, "input-limit", &cfg.InputLimit, o.inputLimit)

	log, err := logger.SetupLogger(&logger.Config{Level: cfg.LogLevel})
	if err != nil {
		return apperrors.Config(err)
	}

	o.cfg = cfg
	o.log = log

	return nil
}

// handle reads the notification from stdin and runs action on it. Forwarding
// actions skip the identity's own messages unless --include-self is set.
func (o *rootOptions) handle(cmd *cobra.Command, action hook.Action, forward bool) error {
	if forward && !o.cfg.IncludeSelf {
		action = hook.SkipSelf(o.log, action)
	}

	return hook.NewRunner(o.log, o.cfg.InputLimit).Run(cmd.Context(), cmd.InOrStdin(), action)
}

// override replaces an env-derived setting with the flag value when the flag was given.
func override[T any](cmd *cobra.Command, name string, dst *T, value T) {
	if cmd.Flags().Changed(name) {
		*dst = value
	}
}
