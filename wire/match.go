package wire

// Match is the handshake response outcome enum (spec §3, §4.3).
type Match int8

const (
	// MatchUnset appears only on requests; handshake responses always
	// carry one of the three named values below.
	MatchUnset Match = -1
	MatchBoth  Match = 0
	MatchClient Match = 1
	MatchNone  Match = 2
)

func (m Match) String() string {
	switch m {
	case MatchBoth:
		return "BOTH"
	case MatchClient:
		return "CLIENT"
	case MatchNone:
		return "NONE"
	default:
		return "UNSET"
	}
}
