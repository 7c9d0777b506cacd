// Package session implements the Peer Session component: one instance per
// TCP connection, turning the raw framed byte stream into a typed event
// stream and accepting typed commands.
package session

// Event is the sealed set of things a Session reports about its peer. The
// scheduler and orchestrator consume events via a type switch; no component
// calls back into a Session's internals.
type Event interface{ event() }

type baseEvent struct{ Session *Session }

// ChokeEvent: the peer will not serve any of our requests until Unchoke.
type ChokeEvent struct{ baseEvent }

// UnchokeEvent: the peer will now serve our requests.
type UnchokeEvent struct{ baseEvent }

// InterestedEvent: the peer wants to download from us.
type InterestedEvent struct{ baseEvent }

// NotInterestedEvent: the peer no longer wants to download from us.
type NotInterestedEvent struct{ baseEvent }

// HaveEvent: the peer has completed and verified a piece.
type HaveEvent struct {
	baseEvent
	Index uint32
}

// BitfieldEvent: the peer announced (or re-announced) its full availability.
type BitfieldEvent struct {
	baseEvent
	Bitfield []byte
	Length   uint32
}

// PieceEvent: a block arrived in response to a request.
type PieceEvent struct {
	baseEvent
	Index, Begin uint32
	Block        []byte
}

// RequestEvent: the peer asked us for a block. The engine is download-only
// and never seeds, so this is accepted and immediately ignored by every
// consumer, per the out-of-scope boundary around upload/seeding.
type RequestEvent struct {
	baseEvent
	Index, Begin, Length uint32
}

// CancelEvent: the peer withdrew a RequestEvent.
type CancelEvent struct {
	baseEvent
	Index, Begin, Length uint32
}

// CloseEvent: the session terminated without error (peer closed the
// connection, or we closed it ourselves).
type CloseEvent struct{ baseEvent }

// ErrorEvent: the session terminated because of a protocol violation,
// transport error, or timeout. Exactly one of CloseEvent/ErrorEvent is ever
// delivered, and it is always the last event for that session.
type ErrorEvent struct {
	baseEvent
	Err error
}

func (ChokeEvent) event()         {}
func (UnchokeEvent) event()       {}
func (InterestedEvent) event()    {}
func (NotInterestedEvent) event() {}
func (HaveEvent) event()          {}
func (BitfieldEvent) event()      {}
func (PieceEvent) event()         {}
func (RequestEvent) event()       {}
func (CancelEvent) event()        {}
func (CloseEvent) event()         {}
func (ErrorEvent) event()         {}
