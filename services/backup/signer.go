package backup

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const (
	envSecretKey = "BACKUP_AGE_SECRET_KEY"
	envPublicKey = "BACKUP_AGE_PUBLIC_KEY"
)

// Signer signs and verifies backup manifests with an Ed25519 key derived from
// an age secret key, so operators manage a single key format.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	recipient  string
}

// SignerFromEnv builds a Signer from BACKUP_AGE_SECRET_KEY and/or
// BACKUP_AGE_PUBLIC_KEY. It returns nil, nil when neither is set.
func SignerFromEnv() (*Signer, error) {
	secret := strings.TrimSpace(os.Getenv(envSecretKey))
	pub := strings.TrimSpace(os.Getenv(envPublicKey))
	if secret == "" && pub == "" {
		return nil, nil
	}
	s, err := NewSigner(secret, pub)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", envSecretKey, envPublicKey, err)
	}
	return s, nil
}

// NewSigner accepts an age secret key (for signing), a base64 Ed25519 public
// key (for verifying only), or both, in which case they must match.
func NewSigner(secretKey, publicKey string) (*Signer, error) {
	var (
		privateKey ed25519.PrivateKey
		pub        ed25519.PublicKey
		recipient  string
	)

	if secretKey != "" {
		seed, err := decodeAgeSecretKey(secretKey)
		if err != nil {
			return nil, fmt.Errorf("parse age secret key: %w", err)
		}
		privateKey = ed25519.NewKeyFromSeed(seed)
		pub = ed25519.PublicKey(privateKey[ed25519.SeedSize:])

		if identity, err := age.ParseX25519Identity(secretKey); err == nil {
			recipient = identity.Recipient().String()
		}
	}

	if publicKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(publicKey)
		if err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
		if l := len(decoded); l != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key must decode to %d bytes, got %d", ed25519.PublicKeySize, l)
		}
		if pub == nil {
			pub = ed25519.PublicKey(decoded)
		} else if !bytes.Equal(pub, decoded) {
			return nil, errors.New("public key does not match secret key")
		}
	}

	if pub == nil {
		return nil, errors.New("no key material provided")
	}
	return &Signer{privateKey: privateKey, publicKey: pub, recipient: recipient}, nil
}

// Sign produces a base64-encoded Ed25519 signature for the provided payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	if s == nil {
		return "", errors.New("nil signer")
	}
	if len(s.privateKey) == 0 {
		return "", errors.New("signer configured without private key")
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, payload)), nil
}

// Verify checks signature over payload. manifestKey is the key embedded in the
// manifest; when the signer has its own key the two must agree.
func (s *Signer) Verify(payload []byte, signature, manifestKey string) error {
	sigBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sigBytes))
	}

	var key ed25519.PublicKey
	if s != nil {
		key = s.publicKey
	}
	if manifestKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(manifestKey)
		if err != nil {
			return fmt.Errorf("decode manifest public key: %w", err)
		}
		if l := len(decoded); l != ed25519.PublicKeySize {
			return fmt.Errorf("manifest public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
		}
		if key != nil && !bytes.Equal(key, decoded) {
			return errors.New("manifest signed by unexpected key")
		}
		if key == nil {
			key = ed25519.PublicKey(decoded)
		}
	}

	if key == nil {
		return errors.New("no public key available for verification")
	}
	if !ed25519.Verify(key, payload, sigBytes) {
		return errors.New("signature verification failed")
	}
	return nil
}

// PublicKeyBase64 returns the Ed25519 public key in base64 form.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

// Recipient returns the age recipient matching the secret key, if any.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}
