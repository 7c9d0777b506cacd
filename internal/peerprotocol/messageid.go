package peerprotocol

// MessageID is the single byte following the length prefix in every
// non-keepalive frame.
type MessageID uint8

// Message ids, per BEP3. The fast-extension and extension-protocol ids used
// by the teacher's wider protocol stack are not part of this catalogue: the
// handshake's reserved bytes are always zero and peers never negotiate them.
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Port          MessageID = 9
)

var names = map[MessageID]string{
	Choke:         "choke",
	Unchoke:       "unchoke",
	Interested:    "interested",
	NotInterested: "not_interested",
	Have:          "have",
	Bitfield:      "bitfield",
	Request:       "request",
	Piece:         "piece",
	Cancel:        "cancel",
	Port:          "port",
}

// String renders the id for logging; every unknown id prints as "unknown"
// rather than erroring, since sessions must treat unknown ids as no-ops.
func (m MessageID) String() string {
	if s, ok := names[m]; ok {
		return s
	}
	return "unknown"
}
