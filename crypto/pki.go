package crypto

import (
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Structs

// PKI describes the internal public key infrastructure
// to generate for one deployment.
type PKI struct {
	Dir       string
	Peers     []string
	RSABits   int
	NotBefore time.Time
	ValidFor  time.Duration
}

// Functions

// RootCertPath returns where the root certificate
// of the PKI in dir lives.
func RootCertPath(dir string) string {
	return filepath.Join(dir, "root-cert.pem")
}

// LocationPaths returns where certificate and key
// of a location of the PKI in dir live.
func LocationPaths(dir string, loc int) (string, string) {
	return filepath.Join(dir, fmt.Sprintf("location-%d-cert.pem", loc)), filepath.Join(dir, fmt.Sprintf("location-%d-key.pem", loc))
}

// bootstrapCertTempl returns a certificate template that
// has all default values for our certificates already set.
func bootstrapCertTempl(nBef time.Time, nAft time.Time) (*x509.Certificate, error) {

	// For serial number generation we need a biggest
	// number to mark the range of the serial number.
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)

	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, errors.Wrap(err, "could not generate random serial number")
	}

	return &x509.Certificate{
		SignatureAlgorithm:    x509.SHA512WithRSA,
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"pgas internal PKI"}},
		NotBefore:             nBef,
		NotAfter:              nAft,
		BasicConstraintsValid: true,
	}, nil
}

// writePEM stores one PEM block at path. Keys are only
// readable by the owner.
func writePEM(path string, blockType string, der []byte, perm os.FileMode) error {

	file, err := os.OpenFile(path, (os.O_WRONLY | os.O_CREATE | os.O_TRUNC), perm)
	if err != nil {
		return errors.Wrapf(err, "failed to open file '%s'", path)
	}
	defer file.Close()

	if err := pem.Encode(file, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return errors.Wrapf(err, "failed to write %s to '%s'", blockType, path)
	}

	return file.Sync()
}

// hostNames fills the subject alternative names of a
// template from a peer address with or without port.
func hostNames(template *x509.Certificate, addr string) {

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = append(template.IPAddresses, ip)
	} else {
		template.DNSNames = append(template.DNSNames, host)
	}

	template.Subject.CommonName = host
}

// createLocationCert performs all needed actions in order
// to obtain a location's key pair and certificate signed
// by the root certificate.
func (p *PKI) createLocationCert(logger log.Logger, loc int, nAft time.Time, rootCert *x509.Certificate, rootKey *rsa.PrivateKey) error {

	key, err := rsa.GenerateKey(rand.Reader, p.RSABits)
	if err != nil {
		return errors.Wrapf(err, "failed to generate key for location %d", loc)
	}

	template, err := bootstrapCertTempl(p.NotBefore, nAft)
	if err != nil {
		return err
	}

	template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	hostNames(template, p.Peers[loc])

	certDER, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return errors.Wrapf(err, "failed to create certificate for location %d", loc)
	}

	certPath, keyPath := LocationPaths(p.Dir, loc)

	if err := writePEM(certPath, "CERTIFICATE", certDER, 0644); err != nil {
		return err
	}

	if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0600); err != nil {
		return err
	}

	level.Debug(logger).Log("msg", "generated location certificate", "location", loc, "cert", certPath)

	return nil
}

// Generate builds a root certificate and one signed
// key pair per peer inside Dir.
func (p *PKI) Generate(logger log.Logger) error {

	if p.RSABits == 0 {
		p.RSABits = 2048
	}

	if p.NotBefore.IsZero() {
		p.NotBefore = time.Now()
	}

	if p.ValidFor == 0 {
		p.ValidFor = 90 * 24 * time.Hour
	}

	nAft := p.NotBefore.Add(p.ValidFor)

	if err := os.MkdirAll(p.Dir, 0700); err != nil {
		return errors.Wrapf(err, "failed to create PKI directory '%s'", p.Dir)
	}

	rootKey, err := rsa.GenerateKey(rand.Reader, p.RSABits)
	if err != nil {
		return errors.Wrap(err, "failed to generate root key")
	}

	rootTemplate, err := bootstrapCertTempl(p.NotBefore, nAft)
	if err != nil {
		return err
	}

	rootTemplate.IsCA = true
	rootTemplate.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign
	rootTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}

	rootCertDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return errors.Wrap(err, "failed to create root certificate")
	}

	// Parse root certificate again so that we can sign with it.
	rootCert, err := x509.ParseCertificate(rootCertDER)
	if err != nil {
		return errors.Wrap(err, "failed to parse root certificate")
	}

	if err := writePEM(RootCertPath(p.Dir), "CERTIFICATE", rootCertDER, 0644); err != nil {
		return err
	}

	if err := writePEM(filepath.Join(p.Dir, "root-key.pem"), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rootKey), 0600); err != nil {
		return err
	}

	level.Info(logger).Log("msg", "generated root certificate", "dir", p.Dir)

	for loc := range p.Peers {

		if err := p.createLocationCert(logger, loc, nAft, rootCert, rootKey); err != nil {
			return err
		}
	}

	return nil
}
