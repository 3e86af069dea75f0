package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "ads test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestTrustBundle_Inline(t *testing.T) {
	data := selfSignedPEM(t)
	digest := sha256.Sum256([]byte(data))

	bundle := &TrustBundle{Name: "ads", Inline: data, SHA256: "sha256:" + hex.EncodeToString(digest[:])}
	pool, err := bundle.RootCAs("")
	require.NoError(t, err)
	require.NotNil(t, pool)

	again, err := bundle.RootCAs("")
	require.NoError(t, err)
	assert.Same(t, pool, again)
}

func TestTrustBundle_Path(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ca.pem", selfSignedPEM(t))

	bundle := &TrustBundle{Name: "ads", Path: "ca.pem"}
	data, err := bundle.PEM(dir)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN CERTIFICATE")
}

func TestTrustBundle_Errors(t *testing.T) {
	_, err := (&TrustBundle{Name: "empty"}).PEM("")
	require.Error(t, err)

	_, err = (&TrustBundle{Name: "sum", Inline: selfSignedPEM(t), SHA256: "00"}).PEM("")
	require.ErrorContains(t, err, "checksum mismatch")

	_, err = (&TrustBundle{Name: "junk", Inline: "not a certificate"}).RootCAs("")
	require.ErrorContains(t, err, "no certificates found")
}
