package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/kai-familiar/marmot-cli/internal/model"
)

const DefaultIndex = "marmot-notifications"

const indexMapping = `{
	"mappings": {
		"properties": {
			"message_id":  { "type": "keyword" },
			"group_id":    { "type": "keyword" },
			"group_name":  { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"sender":      { "type": "keyword" },
			"sender_hex":  { "type": "keyword" },
			"content":     { "type": "text" },
			"sent_at":     { "type": "date" },
			"is_me":       { "type": "boolean" },
			"received_at": { "type": "date" }
		}
	}
}`

type IndexRepository struct {
	es    *elasticsearch.Client
	index string
}

func NewIndexRepository(es *elasticsearch.Client, index string) *IndexRepository {
	if index == "" {
		index = DefaultIndex
	}

	return &IndexRepository{es: es, index: index}
}

func (r *IndexRepository) EnsureIndex(ctx context.Context) (err error) {
	exists, err := r.es.Indices.Exists([]string{r.index}, r.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index existence: %w", err)
	}

	defer func() {
		if cErr := exists.Body.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cErr)
		}
	}()

	if exists.StatusCode == http.StatusOK {
		return nil
	}

	if exists.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status on exists: %s", exists.Status())
	}

	res, err := r.es.Indices.Create(r.index,
		r.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		r.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	defer func() {
		if cErr := res.Body.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cErr)
		}
	}()

	// a concurrent handler may have won the race
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("index creation failed: %s", res.String())
	}

	health, err := r.es.Cluster.Health(
		r.es.Cluster.Health.WithContext(ctx),
		r.es.Cluster.Health.WithIndex(r.index),
		r.es.Cluster.Health.WithWaitForStatus("yellow"),
		r.es.Cluster.Health.WithTimeout(10*time.Second),
	)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return health.Body.Close()
}

func (r *IndexRepository) IndexNotification(ctx context.Context, rec *model.Record) (err error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	res, err := r.es.Index(
		r.index,
		bytes.NewReader(data),
		r.es.Index.WithDocumentID(rec.MessageID),
		r.es.Index.WithContext(ctx),
	)
	if err != nil {
		return err
	}

	defer func() {
		if cErr := res.Body.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cErr)
		}
	}()

	if res.IsError() {
		return fmt.Errorf("failed to index notification: %s", res.String())
	}

	return nil
}
