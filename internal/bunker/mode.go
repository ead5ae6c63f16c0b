package bunker

import (
	"errors"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
)

type Mode string

const (
	ModeBunker Mode = "bunker"
	ModeDirect Mode = "direct"
)

var ErrNoCredentials = errors.New("no credentials: pass --bunker bunker://<pubkey>?relay=wss://...&secret=TOKEN, run 'bunker set', or set NOSTR_NSEC")

// ResolveMode picks the signing mode the engine will use: an explicit bunker URI,
// then an explicit key, then a stored bunker config. cfg is nil in direct mode.
func ResolveMode(nsec, bunkerURI, dbPath string) (Mode, *Config, error) {
	if bunkerURI != "" {
		cfg, err := ParseURI(bunkerURI)
		if err != nil {
			return "", nil, err
		}
		return ModeBunker, cfg, nil
	}

	if nsec != "" {
		return ModeDirect, nil, nil
	}

	cfg, err := Load(dbPath)
	if err != nil {
		return "", nil, err
	}
	if cfg != nil {
		return ModeBunker, cfg, nil
	}

	return "", nil, apperrors.Config(ErrNoCredentials)
}
