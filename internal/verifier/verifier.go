// Package verifier checks the structure and detached RSA signature of an
// outer envelope archive. Verification is pure: on success the inner
// archive bytes are returned exactly as stored, never re-encoded.
package verifier

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/dharsanguruparan/ScanDrop/internal/fail"
)

const (
	// The outer archive holds exactly these two entries.
	documentsEntryName = "envelope.zip"
	signatureEntryName = "signature"
)

// Verifier validates outer archives against per-container public keys.
type Verifier struct {
	keys map[string]*rsa.PublicKey
}

// New returns an empty Verifier; register a key per container before use.
func New() *Verifier {
	return &Verifier{keys: make(map[string]*rsa.PublicKey)}
}

// RegisterKey parses a PEM-encoded PKIX RSA public key for a container.
func (v *Verifier) RegisterKey(container string, pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("container %s: no PEM block in public key", container)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("container %s: parse public key: %w", container, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("container %s: public key is %T, want RSA", container, parsed)
	}
	v.keys[container] = key
	return nil
}

// Verify checks the outer archive layout and the signature over the inner
// archive bytes, returning those bytes unmodified.
func (v *Verifier) Verify(container string, outer []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(outer), int64(len(outer)))
	if err != nil {
		return nil, fail.Wrap(fail.ZipProcessingFailed, "open outer archive", err)
	}
	if len(reader.File) != 2 {
		return nil, fail.Newf(fail.ZipProcessingFailed,
			"outer archive must contain exactly 2 entries, found %d", len(reader.File))
	}
	var inner, signature []byte
	for _, entry := range reader.File {
		data, err := readEntry(entry)
		if err != nil {
			return nil, fail.Wrap(fail.ZipProcessingFailed, "read entry "+entry.Name, err)
		}
		switch entry.Name {
		case documentsEntryName:
			inner = data
		case signatureEntryName:
			signature = data
		default:
			return nil, fail.Newf(fail.ZipProcessingFailed, "unexpected entry %q in outer archive", entry.Name)
		}
	}
	if inner == nil || signature == nil {
		return nil, fail.Newf(fail.ZipProcessingFailed,
			"outer archive must contain %q and %q", documentsEntryName, signatureEntryName)
	}
	key, ok := v.keys[container]
	if !ok {
		return nil, fail.Newf(fail.SignatureVerificationFailed, "no public key registered for container %q", container)
	}
	digest := sha256.Sum256(inner)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		return nil, fail.Wrap(fail.SignatureVerificationFailed, "signature does not match inner archive", err)
	}
	return inner, nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
