package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kai-familiar/marmot-cli/internal/model"
)

type ArchiveRepository struct {
	db *pgxpool.Pool
}

func NewArchiveRepository(db *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// InsertNotification reports false when the message was already archived.
func (r *ArchiveRepository) InsertNotification(ctx context.Context, ext RepoExtension, rec *model.Record) (bool, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
		INSERT INTO marmot.notifications
			(message_id, group_id, group_name, sender, sender_hex, content, sent_at, is_me, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (message_id) DO NOTHING;
	`

	tag, err := ext.Exec(ctx, query,
		rec.MessageID,
		rec.GroupID,
		rec.GroupName,
		rec.Sender,
		rec.SenderHex,
		rec.Content,
		rec.SentAt,
		rec.IsMe,
		[]byte(rec.Payload),
		rec.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
