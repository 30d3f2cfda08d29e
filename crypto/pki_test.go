package crypto_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"crypto/tls"
	"crypto/x509"

	"github.com/go-kit/kit/log"
	"github.com/numbleroot/pgas/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestGenerate builds a PKI for three locations and
// loads a TLS config from it.
func TestGenerate(t *testing.T) {

	dir := filepath.Join(t.TempDir(), "private")

	pki := &crypto.PKI{
		Dir:      dir,
		Peers:    []string{"127.0.0.1:21000", "10.0.0.2:21000", "pgas-2:21000"},
		ValidFor: time.Hour,
	}

	err := pki.Generate(log.NewNopLogger())
	require.Nilf(t, err, "expected nil error but received: %v", err)

	_, err = os.Stat(crypto.RootCertPath(dir))
	assert.Nilf(t, err, "expected nil error but received: %v", err)

	info, err := os.Stat(filepath.Join(dir, "root-key.pem"))
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	for loc := range pki.Peers {

		certPath, keyPath := crypto.LocationPaths(dir, loc)

		config, err := crypto.NewInternalTLSConfig(certPath, keyPath, crypto.RootCertPath(dir))
		require.Nilf(t, err, "expected nil error but received: %v", err)

		assert.Equal(t, tls.RequireAndVerifyClientCert, config.ClientAuth)
		assert.Equal(t, uint16(tls.VersionTLS12), config.MinVersion)
		require.Len(t, config.Certificates, 1)

		cert, err := x509.ParseCertificate(config.Certificates[0].Certificate[0])
		require.Nilf(t, err, "expected nil error but received: %v", err)

		// Every location certificate verifies against
		// the root for client and server usage.
		_, err = cert.Verify(x509.VerifyOptions{
			Roots:     config.RootCAs,
			KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		})
		assert.Nilf(t, err, "expected nil error but received: %v", err)
	}

	certPath, _ := crypto.LocationPaths(dir, 2)

	raw, err := os.ReadFile(certPath)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Contains(t, string(raw), "BEGIN CERTIFICATE")

	config, err := crypto.NewInternalTLSConfig(certPath, filepath.Join(dir, "location-2-key.pem"), crypto.RootCertPath(dir))
	require.Nilf(t, err, "expected nil error but received: %v", err)

	cert, err := x509.ParseCertificate(config.Certificates[0].Certificate[0])
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, []string{"pgas-2"}, cert.DNSNames)
}

// TestNewInternalTLSConfigMissing expects errors for
// paths that do not exist.
func TestNewInternalTLSConfigMissing(t *testing.T) {

	dir := t.TempDir()

	_, err := crypto.NewInternalTLSConfig(filepath.Join(dir, "a.pem"), filepath.Join(dir, "b.pem"), filepath.Join(dir, "root.pem"))
	assert.NotNil(t, err)

	err = os.WriteFile(filepath.Join(dir, "root.pem"), []byte("not a certificate"), 0644)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	_, err = crypto.NewInternalTLSConfig(filepath.Join(dir, "a.pem"), filepath.Join(dir, "b.pem"), filepath.Join(dir, "root.pem"))
	assert.NotNil(t, err)
}
