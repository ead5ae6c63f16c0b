package bunker

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
)

const (
	Scheme        = "bunker"
	ClientScheme  = "nostrconnect"
	configSuffix  = ".bunker.json"
	configMode    = 0o600
	pubkeyHexLen  = 64
	clientKeySize = 32
)

// Config is the persisted NIP-46 remote signer connection. It lives next to the
// engine database and holds a client secret, so it is only ever written 0600.
type Config struct {
	RemoteSignerPubkey string   `json:"remote_signer_pubkey"`
	Relays             []string `json:"relays"`
	Secret             *string  `json:"secret"`
	ClientSecretKey    string   `json:"client_secret_key"`
	UserPubkey         *string  `json:"user_pubkey"`
	CreatedAt          string   `json:"created_at"`
	LastConnected      *string  `json:"last_connected"`
}

// ParseURI builds a fresh config from bunker://<pubkey>?relay=wss://...&secret=TOKEN.
// Every call generates a new client key.
func ParseURI(uri string) (*Config, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidBunkerURI, err)
	}

	switch u.Scheme {
	case Scheme:
	case ClientScheme:
		return nil, fmt.Errorf("%w: expected bunker:// URI, got nostrconnect:// URI, use format bunker://<pubkey>?relay=wss://...&secret=TOKEN",
			apperrors.ErrInvalidBunkerURI)
	default:
		return nil, fmt.Errorf("%w: scheme must be bunker://", apperrors.ErrInvalidBunkerURI)
	}

	pubkey := u.Host
	if pubkey == "" {
		pubkey = strings.TrimPrefix(u.Opaque, "//")
	}
	pubkey = strings.ToLower(pubkey)

	if !IsHexKey(pubkey) {
		return nil, fmt.Errorf("%w: remote signer pubkey must be %d hex characters", apperrors.ErrInvalidBunkerURI, pubkeyHexLen)
	}

	query := u.Query()

	relays := make([]string, 0, len(query["relay"]))
	for _, r := range query["relay"] {
		relay, err := normalizeRelay(r)
		if err != nil {
			return nil, err
		}
		relays = append(relays, relay)
	}

	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: must include at least one relay, e.g. bunker://<pubkey>?relay=wss://relay.nsec.app&secret=TOKEN",
			apperrors.ErrInvalidBunkerURI)
	}

	cfg := &Config{
		RemoteSignerPubkey: pubkey,
		Relays:             relays,
		CreatedAt:          time.Now().UTC().Format(time.RFC3339),
	}

	if secret := query.Get("secret"); secret != "" {
		cfg.Secret = &secret
	}

	key, err := newClientKey()
	if err != nil {
		return nil, err
	}
	cfg.ClientSecretKey = key

	return cfg, nil
}

// URI rebuilds the bunker:// URI this config was parsed from.
func (c *Config) URI() string {
	q := url.Values{}
	for _, r := range c.Relays {
		q.Add("relay", r)
	}
	if c.Secret != nil {
		q.Set("secret", *c.Secret)
	}

	u := url.URL{Scheme: Scheme, Host: c.RemoteSignerPubkey, RawQuery: q.Encode()}
	return u.String()
}

func (c *Config) UpdateConnected(userPubkey string) {
	now := time.Now().UTC().Format(time.RFC3339)
	c.LastConnected = &now

	if userPubkey != "" {
		c.UserPubkey = &userPubkey
	}
}

func IsHexKey(s string) bool {
	if len(s) != pubkeyHexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func normalizeRelay(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return "", fmt.Errorf("%w: relay %q is not a ws:// or wss:// url", apperrors.ErrInvalidBunkerURI, raw)
	}
	return u.String(), nil
}

func newClientKey() (string, error) {
	b := make([]byte, clientKeySize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ConfigPath is the sidecar path for an engine database: marmot.db -> marmot.bunker.json.
func ConfigPath(dbPath string) string {
	return strings.TrimSuffix(dbPath, filepath.Ext(dbPath)) + configSuffix
}

// Load returns nil, nil when no bunker is configured.
func Load(dbPath string) (*Config, error) {
	data, err := os.ReadFile(ConfigPath(dbPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read bunker config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse bunker config: %w", err)
	}

	return &cfg, nil
}

// Save replaces the sidecar atomically: readers see the old or the new file, never half of one.
func (c *Config) Save(dbPath string) error {
	path := ConfigPath(dbPath)
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize bunker config: %w", err)
	}

	if err := os.WriteFile(tmp, data, configMode); err != nil {
		return fmt.Errorf("failed to write bunker config temp file: %w", err)
	}

	// WriteFile keeps the mode of a stale temp file
	if err := os.Chmod(tmp, configMode); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to restrict bunker config permissions: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save bunker config: %w", err)
	}

	return nil
}

// Delete is a no-op when nothing is configured.
func Delete(dbPath string) error {
	if err := os.Remove(ConfigPath(dbPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete bunker config: %w", err)
	}
	return nil
}
