/*
Package security provides the node-agent's certificate authority and
certificate lifecycle helpers used to secure the dispatcher's
controller-facing gRPC listener with mutual TLS.

# Architecture

	┌───────────────┐        ┌─────────────────────┐
	│ CertAuthority │──────▶ │ Certificate helpers │
	│ (Root CA)     │        │ (save/load/rotate)  │
	└───────────────┘        └─────────────────────┘

## Root CA

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=taskd Root CA, O=taskd

The root CA is generated on first start and persisted as a PEM cert/key
pair under its CA directory (ca-root.crt / ca-root.key, the key at 0600).
Subsequent starts call LoadOrInitialize, which loads the existing pair
rather than minting a new root.

## Node and client certificates

	Node Certificate                    Client Certificate
	├── 90-day validity                 ├── 90-day validity
	├── RSA 2048-bit key                ├── RSA 2048-bit key
	├── ServerAuth + ClientAuth         ├── ClientAuth
	├── CN=node-{nodeID}                ├── CN=client-{clientID}
	└── DNS/IP SANs for the listener    └── no SANs

Each issued certificate is also recorded in an in-memory cache
(certCache, read with GetCachedCert). Issuing again for the same identity
generates a fresh RSA key and replaces the cached entry; the cache is not
consulted to skip key generation.

# Usage

	ca := security.NewCertAuthority("/var/lib/taskd/ca")
	if err := ca.LoadOrInitialize(); err != nil {
		panic(err)
	}

	tlsCert, err := ca.IssueNodeCertificate("node-07",
		[]string{"node07.cluster.local"},
		[]net.IP{net.ParseIP("10.0.0.7")})
	if err != nil {
		panic(err)
	}

	certDir, _ := security.GetCertDir("node", "07")
	if err := security.SaveCertToFile(tlsCert, certDir); err != nil {
		panic(err)
	}

# gRPC TLS integration

The dispatcher's controller-facing listener (SPEC_FULL.md §6) uses the
issued node certificate for both directions of the handshake:

	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{nodeCert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    rootPool,
	})

The Unix-domain listener the step-agent and node-agent use to talk to
each other does not go through this package at all — no TLS is needed
across a single host's filesystem-path Unix-domain socket.

# Rotation

CertNeedsRotation reports true once fewer than 30 days remain before a
leaf certificate's NotAfter. Nothing in cmd/taskd or cmd/stepd calls it
on a schedule; no certificate is re-issued automatically.
*/
package security
