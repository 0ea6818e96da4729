// Package session holds the mutable per-connection state shared by the
// KEX state machines (C4/C5), the record layer (C6), and keep-alive (C7):
// cipher contexts, sequence counters, and the phase the connection has
// reached. It is an explicit struct passed by reference, not a process
// singleton (§9 design note on the reference implementation's globals).
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/primitives"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
)

// Phase is the KEX/record-layer state machine's current position.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseConnReq
	PhaseConnResp
	PhaseExchReq
	PhaseExchResp
	PhaseEstReq
	PhaseEstResp
	PhaseEstVerify
	PhaseEstablished
	PhaseKeepAlive
	PhaseTerminate
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseConnReq:
		return "conn_req"
	case PhaseConnResp:
		return "conn_resp"
	case PhaseExchReq:
		return "exch_req"
	case PhaseExchResp:
		return "exch_resp"
	case PhaseEstReq:
		return "est_req"
	case PhaseEstResp:
		return "est_resp"
	case PhaseEstVerify:
		return "est_verify"
	case PhaseEstablished:
		return "established"
	case PhaseKeepAlive:
		return "keep_alive"
	case PhaseTerminate:
		return "terminate"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is one endpoint's session state (§3.2 SessionState). Every mutable
// field is guarded by mu; callers (the application send/receive loops and
// the keep-alive loop — §4.15 / spec §5's resolved Open Question) must
// hold the lock for the duration of any read-modify-write sequence,
// including "check sequence then advance it".
type State struct {
	mu sync.Mutex

	// ID correlates log lines and audit rows for this session. It has no
	// cryptographic role and is never serialized onto the wire or into a
	// persisted key file.
	ID uuid.UUID

	Params profile.Params
	KID    [profile.KIDSize]byte

	RXCipher primitives.AEAD
	TXCipher primitives.AEAD

	DSH []byte
	SSH []byte

	Expiration uint64
	RXSeq      uint64
	TXSeq      uint64
	Phase      Phase
}

// New returns a fresh, unestablished session state.
func New(p profile.Params) *State {
	return &State{ID: uuid.New(), Params: p, Phase: PhaseNone}
}

// Lock acquires the session mutex. Defer Unlock immediately after calling.
func (s *State) Lock() { s.mu.Lock() }

// Unlock releases the session mutex.
func (s *State) Unlock() { s.mu.Unlock() }

// NextTXSeq advances and returns the outgoing sequence number, for the
// record layer (C6): "tx_seq += 1" then the new value is assigned to the
// outgoing packet. Callers must hold the lock.
func (s *State) NextTXSeq() uint64 {
	s.TXSeq++
	return s.TXSeq
}

// CheckAndAdvanceRXSeq advances the expected incoming sequence number and
// reports whether it matches got, per the exact-in-order-delivery
// invariant (§3.3, §8.1): the record layer (C6) increments rx_seq before
// comparing it against the received packet. Callers must hold the lock.
func (s *State) CheckAndAdvanceRXSeq(got uint64) bool {
	s.RXSeq++
	return s.RXSeq == got
}

// CurrentTXSeq returns the outgoing sequence number to stamp on the next
// KEX packet, without mutating it. The KEX state machine (C4/C5) assigns
// the current counter value to a packet, sends it, and only then advances
// via AdvanceTXSeq — unlike the record layer, which advances first.
// Callers must hold the lock.
func (s *State) CurrentTXSeq() uint64 { return s.TXSeq }

// AdvanceTXSeq increments the outgoing sequence number after a KEX packet
// has been sent. Callers must hold the lock.
func (s *State) AdvanceTXSeq() { s.TXSeq++ }

// CheckRXSeqKEX reports whether got matches the current expected incoming
// KEX sequence number, advancing it only on a match — the reference
// implementation's client_key_exchange compares against rx_seq before
// incrementing, rather than after as the record layer does. Callers must
// hold the lock.
func (s *State) CheckRXSeqKEX(got uint64) bool {
	if got != s.RXSeq {
		return false
	}
	s.RXSeq++
	return true
}

// Zeroize scrubs every secret the session holds and drops the cipher
// contexts, per §3.3's "zeroized on drop" invariant. Callers must hold
// the lock (or call it during teardown when no other goroutine can reach
// the session).
func (s *State) Zeroize() {
	primitives.Zeroize(s.DSH)
	primitives.Zeroize(s.SSH)
	for i := range s.KID {
		s.KID[i] = 0
	}
	s.RXCipher = nil
	s.TXCipher = nil
	s.Phase = PhaseTerminate
}
