package model

import (
	"encoding/json"
	"time"
)

// Record is a notification as the sinks store it.
type Record struct {
	MessageID  string          `json:"message_id" bson:"_id"`
	GroupID    string          `json:"group_id" bson:"group_id"`
	GroupName  string          `json:"group_name" bson:"group_name"`
	Sender     string          `json:"sender" bson:"sender"`
	SenderHex  string          `json:"sender_hex" bson:"sender_hex"`
	Content    string          `json:"content" bson:"content"`
	SentAt     *time.Time      `json:"sent_at,omitempty" bson:"sent_at,omitempty"`
	IsMe       bool            `json:"is_me" bson:"is_me"`
	Payload    json.RawMessage `json:"-" bson:"-"`
	ReceivedAt time.Time       `json:"received_at" bson:"received_at"`
}

func NewRecord(env *Envelope, receivedAt time.Time) *Record {
	r := &Record{
		MessageID:  env.MessageID,
		GroupID:    env.GroupID,
		GroupName:  env.GroupName,
		Sender:     env.Sender,
		SenderHex:  env.SenderHex,
		Content:    env.Content,
		IsMe:       env.IsMe,
		Payload:    json.RawMessage(env.Body),
		ReceivedAt: receivedAt.UTC(),
	}

	if !env.Timestamp.IsZero() {
		t := env.Timestamp.Time()
		r.SentAt = &t
	}

	return r
}
