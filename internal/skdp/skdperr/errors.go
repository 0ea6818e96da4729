// Package skdperr defines SKDP's single wire-transmissible error taxonomy
// (§7). Every failure at or above the KEX/record layer reduces to one of
// these codes, carried in an ErrorCondition packet's one-byte payload and
// wrapped with an optional cause for local logging.
package skdperr

import "fmt"

// Code is a wire-transmissible error code.
type Code byte

const (
	None               Code = 0x00
	CipherAuthFailure  Code = 0x01
	KexAuthFailure     Code = 0x02
	BadKeepAlive       Code = 0x03
	ChannelDown        Code = 0x04
	ConnectionFailure  Code = 0x05
	EstablishFailure   Code = 0x06
	InvalidInput       Code = 0x07
	KeepAliveExpired   Code = 0x08
	KeyNotRecognized   Code = 0x09
	RandomFailure      Code = 0x0A
	ReceiveFailure     Code = 0x0B
	TransmitFailure    Code = 0x0C
	UnknownProtocol    Code = 0x0D
	Unsequenced        Code = 0x0E
	PacketExpired      Code = 0x0F
	GeneralFailure     Code = 0xFF
)

var names = map[Code]string{
	None:              "none",
	CipherAuthFailure: "cipher_auth_failure",
	KexAuthFailure:    "kex_auth_failure",
	BadKeepAlive:      "bad_keep_alive",
	ChannelDown:       "channel_down",
	ConnectionFailure: "connection_failure",
	EstablishFailure:  "establish_failure",
	InvalidInput:      "invalid_input",
	KeepAliveExpired:  "keep_alive_expired",
	KeyNotRecognized:  "key_not_recognized",
	RandomFailure:     "random_failure",
	ReceiveFailure:    "receive_failure",
	TransmitFailure:   "transmit_failure",
	UnknownProtocol:   "unknown_protocol",
	Unsequenced:       "unsequenced",
	PacketExpired:     "packet_expired",
	GeneralFailure:    "general_failure",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("code(0x%02X)", byte(c))
}

// Error wraps a Code with an optional underlying cause. Code is what
// crosses the wire or is compared for equality; Err is for local logs
// only and is never transmitted.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skdp: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("skdp: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps code with cause (may be nil) into an *Error.
func New(code Code, cause error) *Error {
	return &Error{Code: code, Err: cause}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, otherwise returns GeneralFailure.
func CodeOf(err error) Code {
	var se *Error
	if AsError(err, &se) {
		return se.Code
	}
	return GeneralFailure
}

// AsError is a local stand-in for errors.As, kept here to avoid importing
// "errors" into every call site that just wants CodeOf. It follows only
// single-error Unwrap chains.
func AsError(err error, target **Error) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
