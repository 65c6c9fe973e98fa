// Package service defines the Service collaborator: an opaque,
// hash-identified protocol description. The core (frame, wire, handshake,
// bridge, gateway) never inspects Protocol() beyond passing it across the
// wire; only the discovery bootstrap and the example router parse it.
package service

import (
	"crypto/md5"

	cristalbase64 "github.com/cristalhq/base64"
)

// Service is a stable, hash-identified protocol description. Two Services
// with equal Hash are considered the same protocol.
type Service interface {
	Hash() [16]byte
	Protocol() string
	// ShortHash renders Hash as a compact, log-friendly base64 string, the
	// way the teacher renders fingerprints for debug output.
	ShortHash() string
}

// Static is the concrete Service most callers construct directly: a JSON
// protocol description fingerprinted by the MD5 of its bytes, matching the
// Avro convention referenced in spec §6 ("16-byte MD5-style fingerprints").
type Static struct {
	hash     [16]byte
	protocol string
}

// New fingerprints protocol and returns a Service for it.
func New(protocol string) *Static {
	return &Static{
		hash:     md5.Sum([]byte(protocol)),
		protocol: protocol,
	}
}

// NewWithHash constructs a Service with an explicit hash, for a hash
// received over the wire alongside its protocol text: the hash is kept as
// sent rather than recomputed from the text.
func NewWithHash(hash [16]byte, protocol string) *Static {
	return &Static{hash: hash, protocol: protocol}
}

func (s *Static) Hash() [16]byte   { return s.hash }
func (s *Static) Protocol() string { return s.protocol }

func (s *Static) ShortHash() string {
	return cristalbase64.URLEncoding.EncodeToString(s.hash[:])
}

// DiscoveryProtocol is the well-known bootstrap protocol a bridge's Ping
// targets to learn a gateway's service list (spec §4.4).
const DiscoveryProtocol = `{"protocol":"avro.netty.DiscoveryService"}`

// Discovery is the well-known discovery service singleton.
var Discovery = New(DiscoveryProtocol)

// Equal reports whether two hashes name the same protocol.
func Equal(a, b [16]byte) bool { return a == b }
