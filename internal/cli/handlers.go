package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/hook"
	"github.com/kai-familiar/marmot-cli/internal/repository"
	"github.com/kai-familiar/marmot-cli/internal/service"
	"github.com/kai-familiar/marmot-cli/pkg/elasticsearch"
	"github.com/kai-familiar/marmot-cli/pkg/kafka"
	"github.com/kai-familiar/marmot-cli/pkg/mailer"
	"github.com/kai-familiar/marmot-cli/pkg/mongo"
	"github.com/kai-familiar/marmot-cli/pkg/postgres"
	"github.com/kai-familiar/marmot-cli/pkg/redis"
)

const closeTimeout = 5 * time.Second

func userAgent() string {
	return "marmot-hook/" + versioninfo.Short()
}

func newLogCommand(o *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Append each notification to a JSON Lines file and print a summary",
		Long: `Appends the notification, with every field it carried plus logged_at, as one
line to the log file, then prints "[group] sender: content" to stdout.
Messages sent by this identity are logged too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := o.cfg.LogFile
			override(cmd, "file", &path, file)

			return o.handle(cmd, service.NewLogFileService(o.log, path, cmd.OutOrStdout()), false)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "log file (env MARMOT_LOG_FILE, default "+service.DefaultLogFile+")")

	return cmd
}

func newWebhookCommand(o *rootOptions) *cobra.Command {
	var (
		url     string
		secret  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "POST each notification to an HTTP endpoint",
		Long: `Sends the notification unchanged as the JSON body of a POST request. With a
secret, the request carries a short-lived HS256 bearer token the inbox accepts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.cfg.Webhook
			override(cmd, "url", &c.URL, url)
			override(cmd, "secret", &c.Secret, secret)
			override(cmd, "timeout", &c.Timeout, timeout)

			action := hook.Lazy(o.log, "webhook", func(context.Context) (hook.Action, func() error, error) {
				svc, err := service.NewWebhookService(o.log, service.WebhookConfig{
					URL:       c.URL,
					Secret:    c.Secret,
					TokenTTL:  c.TokenTTL,
					Timeout:   c.Timeout,
					UserAgent: userAgent(),
				})
				if err != nil {
					return nil, nil, err
				}

				return svc, nil, nil
			})

			return o.handle(cmd, action, true)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "receiver URL (env WEBHOOK_URL)")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret for the bearer token (env WEBHOOK_SECRET)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "request timeout (env WEBHOOK_TIMEOUT, default 10s)")

	return cmd
}

func newEchoCommand(o *rootOptions) *cobra.Command {
	var (
		cli     string
		cliArgs []string
		prefix  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Reply to each message in its group through marmot-cli send",
		Long: `Runs "marmot-cli send -g <group_id> <prefix><content>". Messages sent by this
identity are never echoed, whatever --include-self says.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.cfg.Echo
			override(cmd, "cli", &c.CLI, cli)
			override(cmd, "cli-arg", &c.CLIArgs, cliArgs)
			override(cmd, "prefix", &c.Prefix, prefix)
			override(cmd, "timeout", &c.Timeout, timeout)

			svc := service.NewEchoService(o.log, service.EchoConfig{
				CLI:     c.CLI,
				CLIArgs: c.CLIArgs,
				Prefix:  c.Prefix,
				Timeout: c.Timeout,
			}, service.ExecRunner{})

			return o.handle(cmd, hook.SkipSelf(o.log, svc), false)
		},
	}

	cmd.Flags().StringVar(&cli, "cli", "", "engine binary (env MARMOT_CLI, default "+service.DefaultEchoCLI+")")
	cmd.Flags().StringArrayVar(&cliArgs, "cli-arg", nil, "argument placed before the send subcommand, repeatable (env MARMOT_CLI_ARGS)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "reply prefix (env ECHO_PREFIX, default \""+service.DefaultEchoPrefix+"\")")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "send timeout (env ECHO_TIMEOUT, default 30s)")

	return cmd
}

func newKafkaCommand(o *rootOptions) *cobra.Command {
	var (
		brokers []string
		topic   string
	)

	cmd := &cobra.Command{
		Use:   "kafka",
		Short: "Publish each notification to a Kafka topic keyed by message id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.cfg.Kafka
			override(cmd, "brokers", &c.Brokers, brokers)
			override(cmd, "topic", &c.Topic, topic)

			action := hook.Lazy(o.log, "kafka", func(context.Context) (hook.Action, func() error, error) {
				if len(c.Brokers) == 0 {
					return nil, nil, apperrors.Config(errors.New("kafka brokers are empty"))
				}

				producer, err := kafka.NewProducer(
					c.Brokers,
					kafka.WithBalancer(kafka.Hash),
					kafka.WithRequiredAcks(kafka.RequireAll),
					kafka.WithClientID("marmot-hook"),
				)
				if err != nil {
					return nil, nil, apperrors.Downstream(err)
				}

				svc, err := service.NewKafkaService(o.log, producer, c.Topic)
				if err != nil {
					_ = producer.Close()
					return nil, nil, err
				}

				return svc, producer.Close, nil
			})

			return o.handle(cmd, action, true)
		},
	}

	cmd.Flags().StringSliceVar(&brokers, "brokers", nil, "broker addresses (env KAFKA_BROKERS)")
	cmd.Flags().StringVar(&topic, "topic", "", "topic (env KAFKA_TOPIC, default "+service.DefaultKafkaTopic+")")

	return cmd
}

func newRedisCommand(o *rootOptions) *cobra.Command {
	var (
		channel string
		history int64
	)

	cmd := &cobra.Command{
		Use:   "redis",
		Short: "Publish each notification on a Redis channel and keep a bounded history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.cfg.Redis
			override(cmd, "channel", &c.Channel, channel)
			override(cmd, "history", &c.History, history)

			action := hook.Lazy(o.log, "redis", func(context.Context) (hook.Action, func() error, error) {
				rdb, err := redis.New(&redis.Config{
					Host:     c.Host,
					Port:     c.Port,
					Password: c.Password,
					DB:       c.DB,
				})
				if err != nil {
					return nil, nil, apperrors.Downstream(err)
				}

				svc, err := service.NewRedisService(o.log, repository.NewChannelRepository(rdb.Client()), c.Channel, c.History)
				if err != nil {
					_ = rdb.Close()
					return nil, nil, err
				}

				return svc, rdb.Close, nil
			})

			return o.handle(cmd, action, true)
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "channel (env REDIS_CHANNEL, default "+service.DefaultRedisChannel+")")
	cmd.Flags().Int64Var(&history, "history", 0, "notifications kept in <channel>:history, 0 disables (env REDIS_HISTORY)")

	return cmd
}

func newArchiveCommand(o *rootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Store each notification in PostgreSQL",
		Long: `Inserts the notification into marmot.notifications. A message id that is
already archived is accepted without a second row. --migrate applies the
bundled migrations first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.cfg.Postgres
			override(cmd, "migrate", &c.Migrate, migrate)

			action := hook.Lazy(o.log, "archive", func(context.Context) (hook.Action, func() error, error) {
				db, err := postgres.New(&postgres.Config{
					Host:     c.Host,
					Port:     c.Port,
					User:     c.User,
					Password: c.Password,
					Name:     c.Name,
					SSLMode:  c.SSLMode,
					Migration: postgres.Migration{
						Path:      c.Migrations,
						AutoApply: c.Migrate,
					},
				})
				if err != nil {
					return nil, nil, apperrors.Downstream(err)
				}

				closeFn := func() error {
					db.Close()
					return nil
				}

				return service.NewArchiveService(o.log, repository.NewArchiveRepository(db.Pool())), closeFn, nil
			})

			return o.handle(cmd, action, true)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before inserting (env POSTGRES_MIGRATE)")

	return cmd
}

func newMongoCommand(o *rootOptions) *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "mongo",
		Short: "Store each notification as a MongoDB document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.cfg.Mongo
			override(cmd, "collection", &c.Collection, collection)

			action := hook.Lazy(o.log, "mongo", func(context.Context) (hook.Action, func() error, error) {
				m, err := mongo.New(&mongo.Config{
					URI:      c.URI,
					Database: c.Database,
					Timeout:  c.Timeout,
				})
				if err != nil {
					return nil, nil, apperrors.Downstream(err)
				}

				closeFn := func() error {
					ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
					defer cancel()

					return m.Close(ctx)
				}

				repo := repository.NewDocumentRepository(m.Database(), c.Collection)

				return service.NewDocumentService(o.log, repo), closeFn, nil
			})

			return o.handle(cmd, action, true)
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "collection (env MONGO_COLLECTION, default "+repository.DefaultCollection+")")

	return cmd
}

func newIndexCommand(o *rootOptions) *cobra.Command {
	var index string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index each notification in Elasticsearch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.cfg.Elastic
			override(cmd, "index", &c.Index, index)

			action := hook.Lazy(o.log, "index", func(ctx context.Context) (hook.Action, func() error, error) {
				es, err := elasticsearch.Connect(ctx, &elasticsearch.Config{
					Addresses:  c.Addresses,
					Username:   c.Username,
					Password:   c.Password,
					APIKey:     c.APIKey,
					Timeout:    c.Timeout,
					MaxRetries: c.MaxRetries,
				})
				if err != nil {
					return nil, nil, apperrors.Downstream(err)
				}

				repo := repository.NewIndexRepository(es, c.Index)

				return service.NewIndexService(o.log, repo), nil, nil
			})

			return o.handle(cmd, action, true)
		},
	}

	cmd.Flags().StringVar(&index, "index", "", "index name (env ELASTIC_INDEX, default "+repository.DefaultIndex+")")

	return cmd
}

func newMailCommand(o *rootOptions) *cobra.Command {
	var (
		to      string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Send each notification as an HTML email",
		Long: `Mails the notification to the recipients over SMTP. The subject is a
text/template rendered with the notification fields.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.cfg.Mail
			override(cmd, "to", &c.To, to)
			override(cmd, "subject", &c.Subject, subject)

			action := hook.Lazy(o.log, "mail", func(context.Context) (hook.Action, func() error, error) {
				mlr := mailer.New(&mailer.Config{
					Host:     c.Host,
					Port:     c.Port,
					Username: c.Username,
					Password: c.Password,
					From:     c.From,
					UseTLS:   c.UseTLS,
				})

				svc, err := service.NewMailService(o.log, mlr, c.To, c.Subject)
				if err != nil {
					return nil, nil, err
				}

				return svc, nil, nil
			})

			return o.handle(cmd, action, true)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "comma separated recipient addresses (env MAIL_TO)")
	cmd.Flags().StringVar(&subject, "subject", "", fmt.Sprintf("subject template (env MAIL_SUBJECT, default %q)", service.DefaultMailSubject))

	return cmd
}
