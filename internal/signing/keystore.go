package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/pulsarhq/licensing-backend/pkg/config"
)

// KeyStore holds the Ed25519 signing keys by kid. Keys are loaded once at
// startup and never mutated, so concurrent reads need no locking.
type KeyStore struct {
	keys      map[string]keyPair
	activeKid string
}

type keyPair struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewKeyStore parses the configured key material. Keys takes precedence
// when both Keys and Key are set; the single-key form is registered under
// the active kid.
func NewKeyStore(cfg config.SigningConfig) (*KeyStore, error) {
	activeKid := strings.TrimSpace(cfg.ActiveKid)
	if activeKid == "" {
		return nil, fmt.Errorf("active kid is required")
	}

	seeds := map[string]string{}
	if raw := strings.TrimSpace(cfg.Keys); raw != "" {
		if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
			return nil, fmt.Errorf("parsing signing key set: %w", err)
		}
	} else {
		seeds[activeKid] = strings.TrimSpace(cfg.Key)
	}

	keys := make(map[string]keyPair, len(seeds))
	var errs error
	for kid, encoded := range seeds {
		kid = strings.TrimSpace(kid)
		if kid == "" {
			errs = multierr.Append(errs, fmt.Errorf("signing key with blank kid"))
			continue
		}
		private, err := decodeSeed(encoded)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("signing key %q: %w", kid, err))
			continue
		}
		keys[kid] = keyPair{
			private: private,
			public:  private.Public().(ed25519.PublicKey),
		}
	}
	if errs != nil {
		return nil, errs
	}
	if _, ok := keys[activeKid]; !ok {
		return nil, fmt.Errorf("active kid %q has no signing key", activeKid)
	}

	return &KeyStore{keys: keys, activeKid: activeKid}, nil
}

func decodeSeed(encoded string) (ed25519.PrivateKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("empty seed")
	}
	seed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		seed, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// ActiveKid returns the kid used for newly issued tokens.
func (k *KeyStore) ActiveKid() string {
	return k.activeKid
}

// Signer returns the private key for the active kid.
func (k *KeyStore) Signer() ed25519.PrivateKey {
	return k.keys[k.activeKid].private
}

// Public returns the verification key for the given kid.
func (k *KeyStore) Public(kid string) (ed25519.PublicKey, bool) {
	pair, ok := k.keys[kid]
	if !ok {
		return nil, false
	}
	return pair.public, true
}

// Kids lists the registered kids in stable order.
func (k *KeyStore) Kids() []string {
	kids := make([]string, 0, len(k.keys))
	for kid := range k.keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	return kids
}
