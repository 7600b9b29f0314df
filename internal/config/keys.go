package config

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

// hardenedOffset marks a derivation path component as hardened, the only
// kind ed25519 (SLIP-0010) derivation supports.
const hardenedOffset uint32 = 0x80000000

// slip0010MasterKey is the fixed HMAC key SLIP-0010 mixes the seed
// through to get the master key and chain code.
const slip0010MasterKey = "ed25519 seed"

// defaultDerivationPath is the key file format's default BIP-44 path for
// a seed-only key file with no explicit path, matching spec.md §6.
const defaultDerivationPath = "m/44'/396'/0'/0/0"

// legacySeedWordCount is the word count that selects the legacy
// derivation path instead of BIP-39 for a seed-only key file.
const legacySeedWordCount = 24

// legacySeedSalt is the fixed PBKDF2 salt the legacy TON key derivation
// uses.
const legacySeedSalt = "TON default seed"

// legacySeedIterations is the legacy derivation's PBKDF2 iteration
// count.
const legacySeedIterations = 100_000

var (
	// ErrKeyFileEmpty means a key file has neither a secret nor a seed.
	ErrKeyFileEmpty = errors.New("config: key file has neither secret nor seed")
	// ErrInvalidSeedWordCount means a legacy seed phrase isn't exactly 24
	// words.
	ErrInvalidSeedWordCount = errors.New("config: legacy seed phrase must be exactly 24 words")
)

// storedKeys is the on-disk shape of a key file: `{secret: hex32,
// public?: hex32, seed?: string}` per spec.md §6. Exactly one of Secret
// or Seed is expected to be set; Public is informational and never
// trusted over what Secret/Seed derive.
type storedKeys struct {
	Secret string `json:"secret,omitempty"`
	Public string `json:"public,omitempty"`
	Seed   string `json:"seed,omitempty"`
}

// LoadKeyFile reads a key file from fs and resolves it to an ed25519 key
// pair: a hex secret is used directly, otherwise a seed phrase is
// derived via BIP-39 (default path) or, for a 24-word phrase, the legacy
// PBKDF2 derivation.
func LoadKeyFile(fs afero.Fs, path string) (ed25519.PrivateKey, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("config: read key file %s: %w", path, err)
	}
	var sk storedKeys
	if err := json.Unmarshal(raw, &sk); err != nil {
		return nil, fmt.Errorf("config: parse key file %s: %w", path, err)
	}
	return sk.resolve()
}

func (sk storedKeys) resolve() (ed25519.PrivateKey, error) {
	switch {
	case sk.Secret != "":
		seed, err := hex.DecodeString(sk.Secret)
		if err != nil {
			return nil, fmt.Errorf("config: decode secret: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("config: secret must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		return ed25519.NewKeyFromSeed(seed), nil
	case sk.Seed != "":
		if wordCount(sk.Seed) == legacySeedWordCount {
			return DeriveLegacySeed(sk.Seed)
		}
		return DeriveBIP39(sk.Seed, "", defaultDerivationPath)
	default:
		return nil, ErrKeyFileEmpty
	}
}

func wordCount(phrase string) int {
	return len(strings.Fields(phrase))
}

// DeriveBIP39 derives an ed25519 key pair from a BIP-39 mnemonic and
// passphrase along a SLIP-0010 hardened derivation path, the default
// key-file derivation spec.md §6 names.
func DeriveBIP39(mnemonic, passphrase, path string) (ed25519.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("config: invalid BIP-39 mnemonic")
	}
	indices, err := parseDerivationPath(path)
	if err != nil {
		return nil, err
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return deriveSLIP0010(seed, indices)
}

// DeriveLegacySeed derives an ed25519 key pair from a 24-word seed
// phrase the way TON's original validator tooling does: PBKDF2-HMAC-
// SHA512 over an HMAC-SHA512(phrase) password, fixed salt "TON default
// seed", 100000 iterations, taking the first 32 bytes of the 64-byte
// result as the ed25519 seed.
func DeriveLegacySeed(phrase string) (ed25519.PrivateKey, error) {
	if wordCount(phrase) != legacySeedWordCount {
		return nil, ErrInvalidSeedWordCount
	}
	mac := hmac.New(sha512.New, []byte(phrase))
	password := mac.Sum(nil)
	derived := pbkdf2.Key(password, []byte(legacySeedSalt), legacySeedIterations, sha512.Size, sha512.New)
	return ed25519.NewKeyFromSeed(derived[:ed25519.SeedSize]), nil
}

// parseDerivationPath parses a "m/44'/396'/0'/0/0" BIP-32 style path
// into hardened indices. Every component is treated as hardened
// regardless of a trailing "'": ed25519 (SLIP-0010) has no
// non-hardened derivation, matching core/wallet.go's account'/index'
// convention generalized to an arbitrary-depth path.
func parseDerivationPath(path string) ([]uint32, error) {
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] != "m" {
		return nil, fmt.Errorf("config: invalid derivation path %q: must start with \"m\"", path)
	}
	indices := make([]uint32, 0, len(segments)-1)
	for _, seg := range segments[1:] {
		seg = strings.TrimSuffix(seg, "'")
		seg = strings.TrimSuffix(seg, "h")
		n, err := strconv.ParseUint(seg, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: invalid derivation path %q: %w", path, err)
		}
		indices = append(indices, uint32(n)|hardenedOffset)
	}
	return indices, nil
}

// deriveSLIP0010 walks the master key down a hardened-only derivation
// path, the same two-level construction core/wallet.go's
// derivePrivate/PrivateKey use for account'/index', generalized to an
// arbitrary number of levels.
func deriveSLIP0010(seed []byte, indices []uint32) (ed25519.PrivateKey, error) {
	if len(seed) < 16 {
		return nil, errors.New("config: seed too short")
	}
	i := hmacSHA512([]byte(slip0010MasterKey), seed)
	key, chain := i[:32], i[32:]
	for _, index := range indices {
		key, chain = derivePrivate(key, chain, index)
	}
	return ed25519.NewKeyFromSeed(key), nil
}

func derivePrivate(parentKey, parentChain []byte, index uint32) (key, chain []byte) {
	data := make([]byte, 1+32+4)
	copy(data[1:], parentKey)
	binary.BigEndian.PutUint32(data[33:], index)
	i := hmacSHA512(parentChain, data)
	return i[:32], i[32:]
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// NewSeedPhrase generates a fresh 24-word BIP-39 mnemonic, the
// underlying primitive the CLI's `keys seed` subcommand exposes.
func NewSeedPhrase() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("config: generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}
