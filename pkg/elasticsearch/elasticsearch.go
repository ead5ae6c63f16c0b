package elasticsearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v9"
)

const DefaultTimeout = 10 * time.Second

var ErrNoAddresses = errors.New("no elasticsearch addresses")

type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	Timeout   time.Duration
	// MaxRetries covers 502, 503 and 504 answers; documents are written by id,
	// so a retried write never duplicates one.
	MaxRetries int
}

// Connect builds a client and checks that the cluster answers before ctx or
// cfg.Timeout runs out.
func Connect(ctx context.Context, cfg *Config) (*elasticsearch.Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, ErrNoAddresses
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		APIKey:        cfg.APIKey,
		MaxRetries:    cfg.MaxRetries,
		DisableRetry:  cfg.MaxRetries <= 0,
		RetryOnStatus: []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ping(ctx, client); err != nil {
		return nil, err
	}

	return client, nil
}

func ping(ctx context.Context, client *elasticsearch.Client) (err error) {
	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}

	defer func() {
		if cErr := res.Body.Close(); cErr != nil {
			err = errors.Join(err, fmt.Errorf("close ping body: %w", cErr))
		}
	}()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping answered %s", res.Status())
	}

	return nil
}
