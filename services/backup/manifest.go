package backup

import (
	"time"

	"gopkg.in/yaml.v3"
)

const manifestVersion = "1"

// Manifest describes the contents of a backup and carries its signature.
type Manifest struct {
	Version          string    `yaml:"version"`
	CreatedAt        time.Time `yaml:"created_at"`
	Signer           string    `yaml:"signer,omitempty"`
	SigningPublicKey string    `yaml:"signing_public_key,omitempty"`
	Signature        string    `yaml:"signature,omitempty"`
	Artifacts        []Entry   `yaml:"artifacts"`
}

// SigningBytes marshals the manifest without its signature for signing/verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// Entry is one artifact in a backup. The payload lives at artifacts/<ID>.
type Entry struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Shape     string    `yaml:"shape"`
	CreatedAt time.Time `yaml:"created_at"`
	Files     int       `yaml:"files"`
	Size      int64     `yaml:"size"`
	SHA256    string    `yaml:"sha256"`
}
