package wire

// Well-known header and handshake-meta keys (spec §6).
const (
	// HeaderDiscoveryProtocols carries the JSON-encoded array of a
	// gateway's service protocols in a discovery response.
	HeaderDiscoveryProtocols = "avro.protocols"

	// MetaTraceDeadline carries a serialized absolute deadline in a
	// handshake's meta map.
	MetaTraceDeadline = "avro.trace.deadline"

	// MetaTraceLabels carries serialized trace labels in a handshake's
	// meta map.
	MetaTraceLabels = "avro.trace.labels"
)
