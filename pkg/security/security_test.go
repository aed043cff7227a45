package security

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCA(t *testing.T) *CertAuthority {
	t.Helper()
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())
	return ca
}

func TestCertExistsFalseUntilAllThreeFilesPresent(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, CertExists(dir))

	ca := newTestCA(t)
	require.NoError(t, ca.SaveToDisk(dir))
	assert.False(t, CertExists(dir), "node cert alone is not enough, CA cert is also required")

	cert, err := ca.IssueNodeCertificate("region-1", "regionserver", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	require.NoError(t, SaveCertToFile(cert, filepath.Join(dir, "node")))
	require.NoError(t, SaveCACertToFile(ca.GetRootCACert(), filepath.Join(dir, "node")))

	assert.True(t, CertExists(filepath.Join(dir, "node")))
}

func TestIssueNodeCertificateVerifiesAgainstCA(t *testing.T) {
	ca := newTestCA(t)

	cert, err := ca.IssueNodeCertificate("region-1", "regionserver", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	require.NoError(t, ca.VerifyCertificate(cert.Leaf))
	_, ok := ca.GetCachedCert("region-1")
	assert.True(t, ok)
}

func TestIssueNodeCertificateBeforeInitializeFails(t *testing.T) {
	ca := NewCertAuthority()
	_, err := ca.IssueNodeCertificate("region-1", "regionserver", nil, nil)
	assert.Error(t, err)
	assert.False(t, ca.IsInitialized())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	require.NoError(t, ca.SaveToDisk(dir))

	loaded := NewCertAuthority()
	require.NoError(t, loaded.LoadFromDisk(dir))
	assert.True(t, loaded.IsInitialized())
	assert.Equal(t, ca.GetRootCACert(), loaded.GetRootCACert())
}

func TestCertNeedsRotationNilCert(t *testing.T) {
	assert.True(t, CertNeedsRotation(nil))
}

func TestCertNeedsRotationFreshCertDoesNotNeedRotation(t *testing.T) {
	ca := newTestCA(t)
	cert, err := ca.IssueNodeCertificate("region-1", "regionserver", nil, nil)
	require.NoError(t, err)
	assert.False(t, CertNeedsRotation(cert.Leaf))
}

func TestValidateCertChainRejectsForeignCA(t *testing.T) {
	ca := newTestCA(t)
	other := newTestCA(t)

	cert, err := ca.IssueNodeCertificate("region-1", "regionserver", nil, nil)
	require.NoError(t, err)

	assert.NoError(t, ValidateCertChain(cert.Leaf, ca.rootCert))
	assert.Error(t, ValidateCertChain(cert.Leaf, other.rootCert))
}

func TestRemoveCertsDeletesDirectory(t *testing.T) {
	dir := t.TempDir()
	ca := newTestCA(t)
	require.NoError(t, ca.SaveToDisk(dir))
	assert.FileExists(t, filepath.Join(dir, "node.crt"))

	require.NoError(t, RemoveCerts(dir))
	assert.NoFileExists(t, filepath.Join(dir, "node.crt"))
}
