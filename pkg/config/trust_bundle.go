package config

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TrustBundle holds extra root certificates trusted when fetching ad tags from
// servers signed by a private CA.
type TrustBundle struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Inline string `yaml:"inline"`
	SHA256 string `yaml:"sha256"`

	mu   sync.Mutex
	pool *x509.CertPool
}

// PEM returns the bundle contents after checksum verification. Relative paths
// resolve against base.
func (b *TrustBundle) PEM(base string) ([]byte, error) {
	var data []byte
	switch {
	case strings.TrimSpace(b.Inline) != "":
		data = []byte(b.Inline)
	case strings.TrimSpace(b.Path) != "":
		path := b.Path
		if !filepath.IsAbs(path) && base != "" {
			path = filepath.Join(base, path)
		}
		var err error
		//nolint:gosec // Bundle path is controlled by the operator
		data, err = os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("trust bundle %s: read: %w", b.Name, err)
		}
	default:
		return nil, fmt.Errorf("trust bundle %s: no path or inline data provided", b.Name)
	}

	if err := b.verifyChecksum(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (b *TrustBundle) verifyChecksum(data []byte) error {
	if b.SHA256 == "" {
		return nil
	}

	expected := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(b.SHA256)), "sha256:")
	digest := sha256.Sum256(data)
	if hex.EncodeToString(digest[:]) != expected {
		return fmt.Errorf("trust bundle %s: checksum mismatch", b.Name)
	}
	return nil
}

// RootCAs returns the system pool extended with the bundle certificates. The
// pool is built once per bundle.
func (b *TrustBundle) RootCAs(base string) (*x509.CertPool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		return b.pool, nil
	}

	data, err := b.PEM(base)
	if err != nil {
		return nil, err
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("trust bundle %s: no certificates found", b.Name)
	}
	b.pool = pool
	return pool, nil
}
