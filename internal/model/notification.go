package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
)

const LoggedAtField = "logged_at"

const shortSenderLen = 16

// notificationFields are matched by exact key; encoding/json alone would also
// accept "MESSAGE_ID" or "Is_Me".
var notificationFields = []string{
	"message_id",
	"group_id",
	"group_name",
	"sender",
	"sender_hex",
	"content",
	"timestamp",
	"is_me",
}

type Notification struct {
	MessageID string    `json:"message_id"` // MessageID id of the inner message event, unique per message
	GroupID   string    `json:"group_id"`   // GroupID hex id of the group, routing key for replies
	GroupName string    `json:"group_name"` // GroupName display name, may be empty
	Sender    string    `json:"sender"`     // Sender npub of the author, display only
	SenderHex string    `json:"sender_hex"` // SenderHex 64-char hex pubkey of the author
	Content   string    `json:"content"`    // Content plaintext body
	Timestamp Timestamp `json:"timestamp"`  // Timestamp when the message was created
	IsMe      bool      `json:"is_me"`      // IsMe true when the local identity authored it
}

// ShortSender is the author label used in one-line summaries.
func (n *Notification) ShortSender() string {
	if n.IsMe {
		return "You"
	}

	s := n.Sender
	if s == "" {
		s = n.SenderHex
	}
	if len(s) > shortSenderLen {
		return s[:shortSenderLen]
	}
	return s
}

func (n *Notification) Summary() string {
	return fmt.Sprintf("[%s] %s: %s", n.GroupName, n.ShortSender(), n.Content)
}

func (n *Notification) Validate() error {
	if n.MessageID == "" {
		return apperrors.Input(fmt.Errorf("%w: message_id", apperrors.ErrMissingField))
	}
	if n.GroupID == "" {
		return apperrors.Input(fmt.Errorf("%w: group_id", apperrors.ErrMissingField))
	}
	return nil
}

// Envelope keeps the decoded notification together with the document it came from,
// so handlers can pass on fields they do not know about.
type Envelope struct {
	Notification
	Raw  map[string]json.RawMessage
	Body []byte
}

// Decode parses exactly one notification object. Every failure is an input error.
func Decode(data []byte) (*Envelope, error) {
	body := bytes.TrimSpace(data)
	if len(body) == 0 {
		return nil, apperrors.Input(apperrors.ErrEmptyInput)
	}

	dec := json.NewDecoder(bytes.NewReader(body))

	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, apperrors.Input(fmt.Errorf("decode notification: %w", err))
	}
	if raw == nil {
		return nil, apperrors.Input(fmt.Errorf("%w: document is null", apperrors.ErrInvalidField))
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, apperrors.Input(apperrors.ErrTrailingData)
	}

	known := make(map[string]json.RawMessage, len(notificationFields))
	for _, k := range notificationFields {
		if v, ok := raw[k]; ok {
			known[k] = v
		}
	}

	fields, err := json.Marshal(known)
	if err != nil {
		return nil, apperrors.Input(fieldError(err))
	}

	var n Notification
	if err := json.Unmarshal(fields, &n); err != nil {
		return nil, apperrors.Input(fieldError(err))
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}

	return &Envelope{
		Notification: n,
		Raw:          raw,
		Body:         body,
	}, nil
}

func fieldError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %s must be %s, got %s", apperrors.ErrInvalidField, typeErr.Field, typeErr.Type, typeErr.Value)
	}
	if errors.Is(err, apperrors.ErrInvalidTimestamp) {
		return fmt.Errorf("%w: timestamp: %w", apperrors.ErrInvalidField, err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrInvalidField, err)
}

// With returns the original document with one extra top-level field.
// An existing field of the same name is replaced.
func (e *Envelope) With(key string, value any) ([]byte, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", key, err)
	}

	out := make(map[string]json.RawMessage, len(e.Raw)+1)
	for k, val := range e.Raw {
		out[k] = val
	}
	out[key] = v

	return json.Marshal(out)
}

// Logged is the log line for this notification: the original fields plus logged_at.
func (e *Envelope) Logged(at time.Time) ([]byte, error) {
	return e.With(LoggedAtField, at.UTC().Format(time.RFC3339Nano))
}

// NewEnvelope builds an envelope for a notification that was not read from JSON.
func NewEnvelope(n Notification) (*Envelope, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return Decode(body)
}
