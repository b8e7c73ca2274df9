package security

import (
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCA(t *testing.T) *CertAuthority {
	t.Helper()
	dir, err := os.MkdirTemp("", "taskd-ca-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return NewCertAuthority(dir)
}

func TestInitializeCA(t *testing.T) {
	ca := newTestCA(t)

	if err := ca.Initialize(); err != nil {
		t.Fatalf("failed to initialize CA: %v", err)
	}

	if !ca.IsInitialized() {
		t.Error("CA should be initialized")
	}
	if ca.rootCert == nil {
		t.Error("root certificate should not be nil")
	}
	if ca.rootKey == nil {
		t.Error("root key should not be nil")
	}
	if !ca.rootCert.IsCA {
		t.Error("root certificate should be a CA")
	}

	expectedExpiry := time.Now().Add(rootCAValidity)
	if ca.rootCert.NotAfter.Before(expectedExpiry.Add(-time.Hour)) {
		t.Errorf("root cert expiry too early: %v, expected around %v", ca.rootCert.NotAfter, expectedExpiry)
	}
}

func TestSaveLoadCA(t *testing.T) {
	dir, err := os.MkdirTemp("", "taskd-ca-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	ca1 := NewCertAuthority(dir)
	if err := ca1.Initialize(); err != nil {
		t.Fatalf("failed to initialize CA: %v", err)
	}
	if err := ca1.Save(); err != nil {
		t.Fatalf("failed to save CA: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "ca-root.key")); err != nil {
		t.Fatalf("expected root key file to exist: %v", err)
	}

	ca2 := NewCertAuthority(dir)
	if err := ca2.Load(); err != nil {
		t.Fatalf("failed to load CA: %v", err)
	}

	if !ca2.IsInitialized() {
		t.Error("loaded CA should be initialized")
	}
	if !ca1.rootCert.Equal(ca2.rootCert) {
		t.Error("loaded root cert should match original")
	}
	if ca1.rootKey.N.Cmp(ca2.rootKey.N) != 0 {
		t.Error("loaded root key should match original")
	}
}

func TestLoadOrInitializeIsIdempotent(t *testing.T) {
	dir, err := os.MkdirTemp("", "taskd-ca-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	ca1 := NewCertAuthority(dir)
	if err := ca1.LoadOrInitialize(); err != nil {
		t.Fatalf("first LoadOrInitialize failed: %v", err)
	}

	ca2 := NewCertAuthority(dir)
	if err := ca2.LoadOrInitialize(); err != nil {
		t.Fatalf("second LoadOrInitialize failed: %v", err)
	}

	if !ca1.rootCert.Equal(ca2.rootCert) {
		t.Error("second LoadOrInitialize should reuse the persisted root, not mint a new one")
	}
}

func TestIssueNodeCertificate(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("failed to initialize CA: %v", err)
	}

	tests := []struct {
		name   string
		nodeID string
	}{
		{"node one", "node01"},
		{"node two", "node02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert, err := ca.IssueNodeCertificate(tt.nodeID, nil, nil)
			if err != nil {
				t.Fatalf("failed to issue certificate: %v", err)
			}

			if cert.Leaf == nil {
				t.Fatal("certificate Leaf should not be nil")
			}

			expectedCN := "node-" + tt.nodeID
			if cert.Leaf.Subject.CommonName != expectedCN {
				t.Errorf("expected CN %s, got %s", expectedCN, cert.Leaf.Subject.CommonName)
			}

			expectedExpiry := time.Now().Add(nodeCertValidity)
			if cert.Leaf.NotAfter.Before(expectedExpiry.Add(-time.Hour)) {
				t.Errorf("cert expiry too early: %v, expected around %v", cert.Leaf.NotAfter, expectedExpiry)
			}

			if cert.Leaf.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
				t.Error("certificate should have DigitalSignature key usage")
			}

			hasClientAuth, hasServerAuth := false, false
			for _, usage := range cert.Leaf.ExtKeyUsage {
				if usage == x509.ExtKeyUsageClientAuth {
					hasClientAuth = true
				}
				if usage == x509.ExtKeyUsageServerAuth {
					hasServerAuth = true
				}
			}
			if !hasClientAuth {
				t.Error("node certificate should have ClientAuth extended key usage")
			}
			if !hasServerAuth {
				t.Error("node certificate should have ServerAuth extended key usage")
			}
		})
	}
}

func TestIssueClientCertificate(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("failed to initialize CA: %v", err)
	}

	clientID := "user-on-machine"
	cert, err := ca.IssueClientCertificate(clientID)
	if err != nil {
		t.Fatalf("failed to issue client certificate: %v", err)
	}

	if cert.Leaf == nil {
		t.Fatal("certificate Leaf should not be nil")
	}

	expectedCN := "client-" + clientID
	if cert.Leaf.Subject.CommonName != expectedCN {
		t.Errorf("expected CN %s, got %s", expectedCN, cert.Leaf.Subject.CommonName)
	}

	hasClientAuth, hasServerAuth := false, false
	for _, usage := range cert.Leaf.ExtKeyUsage {
		if usage == x509.ExtKeyUsageClientAuth {
			hasClientAuth = true
		}
		if usage == x509.ExtKeyUsageServerAuth {
			hasServerAuth = true
		}
	}
	if !hasClientAuth {
		t.Error("client certificate should have ClientAuth extended key usage")
	}
	if hasServerAuth {
		t.Error("client certificate should not have ServerAuth extended key usage")
	}
}

func TestVerifyCertificate(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("failed to initialize CA: %v", err)
	}

	cert, err := ca.IssueNodeCertificate("node-under-test", nil, []net.IP{net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("failed to issue certificate: %v", err)
	}

	if err := ca.VerifyCertificate(cert.Leaf); err != nil {
		t.Errorf("certificate verification failed: %v", err)
	}
}

func TestGetRootCACert(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("failed to initialize CA: %v", err)
	}

	rootCertDER := ca.GetRootCACert()
	if rootCertDER == nil {
		t.Fatal("root CA cert should not be nil")
	}

	parsedCert, err := x509.ParseCertificate(rootCertDER)
	if err != nil {
		t.Fatalf("failed to parse root CA cert: %v", err)
	}
	if !parsedCert.Equal(ca.rootCert) {
		t.Error("returned root CA cert should match internal cert")
	}
}

func TestCertCache(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("failed to initialize CA: %v", err)
	}

	nodeID := "cached-node"
	if _, err := ca.IssueNodeCertificate(nodeID, nil, nil); err != nil {
		t.Fatalf("failed to issue certificate: %v", err)
	}

	cached, exists := ca.GetCachedCert(nodeID)
	if !exists {
		t.Fatal("certificate should be in cache")
	}
	if cached.Cert.Subject.CommonName != "node-"+nodeID {
		t.Errorf("cached cert CN mismatch: %s", cached.Cert.Subject.CommonName)
	}
}
