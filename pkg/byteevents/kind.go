package byteevents

// Kind identifies the milestone an event marks.
type Kind uint8

const (
	// FirstByte is the first byte of a response body.
	FirstByte Kind = iota
	// LastByte is the last byte of a response.
	LastByte
	// PingReplySent is the last byte of a ping reply.
	PingReplySent
	// FirstHeaderByte is the first byte of a response's status line.
	FirstHeaderByte
	// TrackedByte is any other byte a sender asked to follow.
	TrackedByte
)

var kindNames = map[Kind]string{
	FirstByte:       "first_byte",
	LastByte:        "last_byte",
	PingReplySent:   "ping_reply_sent",
	FirstHeaderByte: "first_header_byte",
	TrackedByte:     "tracked_byte",
}

// String returns the name used in logs and metric attributes.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// TimestampKind is the kind of timestamp a TimestampEvent waits for.
type TimestampKind uint8

const (
	// Transmit is the time the byte was handed to the network interface.
	Transmit TimestampKind = iota
	// Acknowledgment is the time the peer's ACK for the byte was observed.
	Acknowledgment
)

func (k TimestampKind) String() string {
	switch k {
	case Transmit:
		return "tx"
	case Acknowledgment:
		return "ack"
	default:
		return "unknown"
	}
}
