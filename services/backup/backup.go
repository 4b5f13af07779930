// Package backup writes the inbox to a signed tar.zst archive and restores it.
// Payloads are exported as the store returns them, so a sealed store exports
// plaintext.
package backup

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"photodrop/services/artifacts"
)

const (
	manifestFileName = "manifest.yaml"
	payloadPrefix    = "artifacts/"
)

// ExportConfig configures Export.
type ExportConfig struct {
	// Signer signs the manifest; nil writes an unsigned backup.
	Signer *Signer
	Now    func() time.Time
}

// ImportConfig configures Import.
type ImportConfig struct {
	// Signer, when set, requires a manifest signed by its key.
	Signer *Signer
}

// ImportResult summarises a restore.
type ImportResult struct {
	Manifest *Manifest
	Imported int
	// Skipped counts artifacts already present in the store.
	Skipped int
}

// Export writes every artifact in store to w.
func Export(ctx context.Context, store artifacts.Store, w io.Writer, cfg ExportConfig) (*Manifest, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	list, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})

	manifest := &Manifest{
		Version:          manifestVersion,
		CreatedAt:        cfg.Now().UTC().Truncate(time.Second),
		Signer:           cfg.Signer.Recipient(),
		SigningPublicKey: cfg.Signer.PublicKeyBase64(),
	}
	bodies := make(map[string][]byte, len(list))
	for _, a := range list {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stored, body, err := store.Get(ctx, a.ID)
		if errors.Is(err, artifacts.ErrNotFound) {
			// Removed between List and Get.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", a.ID, err)
		}
		sum := sha256.Sum256(body)
		manifest.Artifacts = append(manifest.Artifacts, Entry{
			ID:        stored.ID,
			Name:      stored.Name,
			Shape:     string(stored.Shape),
			CreatedAt: stored.CreatedAt.UTC(),
			Files:     stored.Files,
			Size:      int64(len(body)),
			SHA256:    hex.EncodeToString(sum[:]),
		})
		bodies[stored.ID] = body
	}

	if cfg.Signer != nil {
		payload, err := manifest.SigningBytes()
		if err != nil {
			return nil, fmt.Errorf("marshal manifest for signing: %w", err)
		}
		sig, err := cfg.Signer.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("sign manifest: %w", err)
		}
		manifest.Signature = sig
	}

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeArchive(w, manifest, manifestBytes, bodies); err != nil {
		return nil, err
	}
	return manifest, nil
}

func writeArchive(w io.Writer, manifest *Manifest, manifestBytes []byte, bodies map[string][]byte) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(encoder)

	write := func(name string, modTime time.Time, data []byte) error {
		header := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  modTime,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}

	if err := write(manifestFileName, manifest.CreatedAt, manifestBytes); err != nil {
		encoder.Close()
		return err
	}
	for _, entry := range manifest.Artifacts {
		if err := write(payloadPrefix+entry.ID, entry.CreatedAt, bodies[entry.ID]); err != nil {
			encoder.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		encoder.Close()
		return fmt.Errorf("finish tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finish zstd: %w", err)
	}
	return nil
}

// Import restores a backup read from r into store. The whole archive is
// verified before anything is written; artifacts whose id already exists are
// skipped.
func Import(ctx context.Context, store artifacts.Store, r io.Reader, cfg ImportConfig) (ImportResult, error) {
	if store == nil {
		return ImportResult{}, errors.New("artifact store is required")
	}

	manifest, bodies, err := readArchive(ctx, r)
	if err != nil {
		return ImportResult{}, err
	}
	if err := verifyManifest(manifest, cfg.Signer); err != nil {
		return ImportResult{}, err
	}

	for _, entry := range manifest.Artifacts {
		if err := validateEntry(entry, bodies[entry.ID]); err != nil {
			return ImportResult{}, err
		}
	}

	result := ImportResult{Manifest: manifest}
	for _, entry := range manifest.Artifacts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		a := artifacts.Artifact{
			ID:        entry.ID,
			Name:      entry.Name,
			Shape:     artifacts.Shape(entry.Shape),
			CreatedAt: entry.CreatedAt,
			Size:      entry.Size,
			Files:     entry.Files,
		}
		err := store.Put(ctx, a, bodies[entry.ID])
		switch {
		case err == nil:
			result.Imported++
		case errors.Is(err, artifacts.ErrExists):
			result.Skipped++
		default:
			return result, fmt.Errorf("restore %s: %w", entry.ID, err)
		}
	}
	return result, nil
}

func readArchive(ctx context.Context, r io.Reader) (*Manifest, map[string][]byte, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	var (
		tr            = tar.NewReader(decoder)
		manifestBytes []byte
		bodies        = map[string][]byte{}
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", header.Name, err)
		}

		name := path.Clean(header.Name)
		switch {
		case name == manifestFileName:
			manifestBytes = data
		case strings.HasPrefix(name, payloadPrefix):
			id := strings.TrimPrefix(name, payloadPrefix)
			if !artifacts.ValidID(id) {
				return nil, nil, fmt.Errorf("invalid entry path %q", header.Name)
			}
			bodies[id] = data
		}
	}

	if len(manifestBytes) == 0 {
		return nil, nil, fmt.Errorf("backup missing %s", manifestFileName)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}
	return &manifest, bodies, nil
}

func verifyManifest(manifest *Manifest, signer *Signer) error {
	if manifest.Signature == "" {
		if signer != nil {
			return errors.New("manifest missing signature")
		}
		return nil
	}
	payload, err := manifest.SigningBytes()
	if err != nil {
		return fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return fmt.Errorf("verify manifest signature: %w", err)
	}
	return nil
}

func validateEntry(entry Entry, body []byte) error {
	if !artifacts.ValidID(entry.ID) {
		return fmt.Errorf("invalid artifact id %q in manifest", entry.ID)
	}
	if body == nil {
		return fmt.Errorf("artifact %s missing from archive", entry.ID)
	}
	if int64(len(body)) != entry.Size {
		return fmt.Errorf("size mismatch for %s: expected %d got %d", entry.ID, entry.Size, len(body))
	}
	sum := sha256.Sum256(body)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), entry.SHA256) {
		return fmt.Errorf("sha256 mismatch for %s", entry.ID)
	}
	return nil
}
