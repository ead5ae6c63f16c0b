package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/audit"
	"github.com/kai-familiar/marmot-cli/internal/bunker"
)

const (
	defaultDBPath       = "~/.marmot-cli/marmot.db"
	defaultAuditEntries = 5
)

// dbFlag registers --db with the engine's default database location.
func dbFlag(cmd *cobra.Command, dst *string) {
	def := os.Getenv("MARMOT_DB")
	if def == "" {
		def = defaultDBPath
	}

	cmd.PersistentFlags().StringVarP(dst, "db", "d", def, "marmot-cli database path (env MARMOT_DB); sidecar files live next to it")
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", apperrors.Config(fmt.Errorf("resolve home directory: %w", err))
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func newBunkerCommand(o *rootOptions) *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "bunker",
		Short: "Manage the stored NIP-46 remote signer configuration",
	}

	dbFlag(cmd, &db)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <bunker-uri>",
			Short: "Store a bunker:// URI for marmot-cli to sign with",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := expandHome(db)
				if err != nil {
					return err
				}

				cfg, err := bunker.ParseURI(args[0])
				if err != nil {
					return apperrors.Input(err)
				}

				if err := cfg.Save(path); err != nil {
					return err
				}

				audit.New(o.log, path).Record(audit.OpBunkerSet,
					fmt.Sprintf("remote_signer=%s relays=%s", cfg.RemoteSignerPubkey, strings.Join(cfg.Relays, ",")))

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Bunker configured: %s\n", short(cfg.RemoteSignerPubkey))
				fmt.Fprintf(out, "Relays: %s\n", strings.Join(cfg.Relays, ", "))
				fmt.Fprintf(out, "Saved to %s\n", bunker.ConfigPath(path))

				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the stored bunker configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := expandHome(db)
				if err != nil {
					return err
				}

				if err := bunker.Delete(path); err != nil {
					return err
				}

				audit.New(o.log, path).Record(audit.OpBunkerClear, "bunker config removed")

				fmt.Fprintln(cmd.OutOrStdout(), "Bunker configuration cleared")

				return nil
			},
		},
		&cobra.Command{
			Use:   "connected [user-pubkey]",
			Short: "Record a successful connection to the stored bunker",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := expandHome(db)
				if err != nil {
					return err
				}

				cfg, err := bunker.Load(path)
				if err != nil {
					return err
				}
				if cfg == nil {
					return apperrors.Config(errors.New("no bunker configured, run 'marmot-hook bunker set' first"))
				}

				var user string
				if len(args) == 1 {
					user = strings.ToLower(args[0])
					if !bunker.IsHexKey(user) {
						return apperrors.Input(errors.New("user pubkey must be 64 hex characters"))
					}
				}

				cfg.UpdateConnected(user)

				if err := cfg.Save(path); err != nil {
					return err
				}

				audit.New(o.log, path).Record(audit.OpBunkerConnect, "remote_signer="+cfg.RemoteSignerPubkey)

				fmt.Fprintf(cmd.OutOrStdout(), "Connection recorded for %s\n", short(cfg.RemoteSignerPubkey))

				return nil
			},
		},
	)

	return cmd
}

func newSignerStatusCommand(o *rootOptions) *cobra.Command {
	var (
		db        string
		bunkerURI string
		entries   int
	)

	cmd := &cobra.Command{
		Use:   "signer-status",
		Short: "Show which signer marmot-cli will use and recent signer activity",
		Long: `Resolves the signing mode the way marmot-cli does: --bunker, then NOSTR_NSEC,
then the stored bunker configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := expandHome(db)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			mode, cfg, err := bunker.ResolveMode(os.Getenv("NOSTR_NSEC"), bunkerURI, path)
			if err != nil {
				fmt.Fprintln(out, "Mode: none")
				return err
			}

			printSignerStatus(out, mode, cfg, time.Now())

			if entries <= 0 {
				return nil
			}

			log := audit.New(o.log, path)

			tail, err := log.Tail(entries)
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}

			fmt.Fprintf(out, "\nRecent signer activity (%s):\n", log.Path())
			if len(tail) == 0 {
				fmt.Fprintln(out, "  none")
			}

			for _, e := range tail {
				fmt.Fprintf(out, "  %-14s %-16s %s\n", humanize.Time(e.Time()), e.Operation, e.Details)
			}

			return nil
		},
	}

	dbFlag(cmd, &db)
	cmd.Flags().StringVar(&bunkerURI, "bunker", "", "bunker:// URI to check instead of the stored one")
	cmd.Flags().IntVar(&entries, "audit", defaultAuditEntries, "number of audit entries to show, 0 hides them")

	return cmd
}

func printSignerStatus(out io.Writer, mode bunker.Mode, cfg *bunker.Config, now time.Time) {
	fmt.Fprintf(out, "Mode: %s\n", mode)

	if cfg == nil {
		return
	}

	fmt.Fprintf(out, "Remote signer: %s\n", cfg.RemoteSignerPubkey)
	fmt.Fprintf(out, "Relays: %s\n", strings.Join(cfg.Relays, ", "))

	user := "unknown until first connection"
	if cfg.UserPubkey != nil {
		user = *cfg.UserPubkey
	}
	fmt.Fprintf(out, "User: %s\n", user)

	fmt.Fprintf(out, "Created: %s\n", relative(cfg.CreatedAt, now))

	connected := "never"
	if cfg.LastConnected != nil {
		connected = relative(*cfg.LastConnected, now)
	}
	fmt.Fprintf(out, "Last connected: %s\n", connected)
}

func relative(ts string, now time.Time) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}

	return humanize.RelTime(t, now, "ago", "from now")
}

func short(pubkey string) string {
	if len(pubkey) <= 16 {
		return pubkey
	}

	return pubkey[:16] + "..."
}
