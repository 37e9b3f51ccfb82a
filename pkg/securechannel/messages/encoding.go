// Package messages holds encoding helpers shared by the secure channel
// handshake payloads.
package messages

import "github.com/larkspur-iot/chip-core/pkg/tlv"

// PutSessionID writes a session id as a 2-byte unsigned integer. The spec
// (4.11.2) pins the width; minimal-width encoding would be wrong here.
func PutSessionID(w *tlv.Writer, tag tlv.Tag, sessionID uint16) error {
	return w.PutUintWithWidth(tag, uint64(sessionID), 2)
}

// PutPasscodeID writes a passcode id, also pinned to 2 bytes (5.1.6.3).
func PutPasscodeID(w *tlv.Writer, tag tlv.Tag, passcodeID uint16) error {
	return w.PutUintWithWidth(tag, uint64(passcodeID), 2)
}
