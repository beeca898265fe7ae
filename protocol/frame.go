package protocol

// Sigils tag the kind of every frame on the wire.
const (
	SigilStatus  byte = '+'
	SigilInteger byte = ':'
	SigilError   byte = '-'

	// Reserved by RESP, recognised but rejected.
	SigilBulk  byte = '$'
	SigilArray byte = '*'
)

// FrameKind names the frame kinds the parser can produce.
type FrameKind int

const (
	StatusLine FrameKind = iota
	IntegerLine
	ErrorLine
)

// Frame is one parsed line of the wire protocol: a sigil plus the
// payload bytes between the sigil and the line terminator. Frames are
// created per scanned line and discarded once the state machine has
// consumed them.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}
