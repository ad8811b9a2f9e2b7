package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// selfSignedCA generates a throwaway root certificate for tests, filling
// in for the operator-provisioned CA this package no longer issues itself.
func selfSignedCA(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

// issueLeafCert issues a node-style cert signed by the given CA, valid for
// validity (use a negative duration to produce an already-expired cert).
func issueLeafCert(t *testing.T, ca *x509.Certificate, caKey *rsa.PrivateKey, validity time.Duration) *tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "tablet-1"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"tablet-1.tablestore"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca, &key.PublicKey, caKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
}

func TestSaveLoadCertToFile(t *testing.T) {
	ca, caKey := selfSignedCA(t)
	cert := issueLeafCert(t, ca, caKey, nodeCertValidityForTest)

	certDir := t.TempDir()
	require.NoError(t, SaveCertToFile(cert, certDir))

	require.FileExists(t, filepath.Join(certDir, "node.crt"))
	require.FileExists(t, filepath.Join(certDir, "node.key"))

	loaded, err := LoadCertFromFile(certDir)
	require.NoError(t, err)
	require.Equal(t, cert.Leaf.SerialNumber, loaded.Leaf.SerialNumber)
}

func TestSaveLoadCACertToFile(t *testing.T) {
	ca, _ := selfSignedCA(t)
	certDir := t.TempDir()

	require.NoError(t, SaveCACertToFile(ca.Raw, certDir))
	require.FileExists(t, filepath.Join(certDir, "ca.crt"))

	loaded, err := LoadCACertFromFile(certDir)
	require.NoError(t, err)
	require.Equal(t, ca.SerialNumber, loaded.SerialNumber)
}

func TestCertExists(t *testing.T) {
	certDir := t.TempDir()
	require.False(t, CertExists(certDir))

	ca, caKey := selfSignedCA(t)
	cert := issueLeafCert(t, ca, caKey, nodeCertValidityForTest)
	require.NoError(t, SaveCertToFile(cert, certDir))
	require.False(t, CertExists(certDir), "cert exists without CA file yet")

	require.NoError(t, SaveCACertToFile(ca.Raw, certDir))
	require.True(t, CertExists(certDir))
}

func TestCertNeedsRotation(t *testing.T) {
	ca, caKey := selfSignedCA(t)

	fresh := issueLeafCert(t, ca, caKey, 365*24*time.Hour)
	require.False(t, CertNeedsRotation(fresh.Leaf))

	expiring := issueLeafCert(t, ca, caKey, 24*time.Hour)
	require.True(t, CertNeedsRotation(expiring.Leaf))

	require.True(t, CertNeedsRotation(nil))
}

func TestValidateCertChain(t *testing.T) {
	ca, caKey := selfSignedCA(t)
	cert := issueLeafCert(t, ca, caKey, nodeCertValidityForTest)
	require.NoError(t, ValidateCertChain(cert.Leaf, ca))

	otherCA, _ := selfSignedCA(t)
	require.Error(t, ValidateCertChain(cert.Leaf, otherCA))
}

func TestGetCertInfo(t *testing.T) {
	ca, caKey := selfSignedCA(t)
	cert := issueLeafCert(t, ca, caKey, nodeCertValidityForTest)

	info := GetCertInfo(cert.Leaf)
	require.Equal(t, "tablet-1", info["subject"])
	require.Contains(t, info["key_usage"], "DigitalSignature")
	require.Contains(t, info["ext_key_usage"], "ClientAuth")

	require.Equal(t, map[string]interface{}{"error": "certificate is nil"}, GetCertInfo(nil))
}

func TestRemoveCerts(t *testing.T) {
	ca, caKey := selfSignedCA(t)
	cert := issueLeafCert(t, ca, caKey, nodeCertValidityForTest)
	certDir := t.TempDir()
	require.NoError(t, SaveCertToFile(cert, certDir))
	require.NoError(t, SaveCACertToFile(ca.Raw, certDir))

	require.NoError(t, RemoveCerts(certDir))
	_, err := os.Stat(certDir)
	require.True(t, os.IsNotExist(err))
}

func TestLoadTLSConfig(t *testing.T) {
	ca, caKey := selfSignedCA(t)
	cert := issueLeafCert(t, ca, caKey, nodeCertValidityForTest)
	certDir := t.TempDir()
	require.NoError(t, SaveCertToFile(cert, certDir))
	require.NoError(t, SaveCACertToFile(ca.Raw, certDir))

	cfg, err := LoadTLSConfig(certDir, true)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)

	clientCfg, err := LoadTLSConfig(certDir, false)
	require.NoError(t, err)
	require.Equal(t, tls.NoClientCert, clientCfg.ClientAuth)
}

func TestLoadTLSConfigMissing(t *testing.T) {
	_, err := LoadTLSConfig(t.TempDir(), true)
	require.Error(t, err)
}

// nodeCertValidityForTest mirrors the 90-day lifetime the admin-issued
// certs this package loads are expected to carry.
const nodeCertValidityForTest = 90 * 24 * time.Hour
