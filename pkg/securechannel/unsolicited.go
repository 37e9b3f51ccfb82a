package securechannel

import (
	"github.com/larkspur-iot/chip-core/pkg/session"
)

// UnsolicitedHandler deals with status reports that arrive on an
// established secure session rather than during a handshake: CloseSession
// (4.11.1.4) and Busy (4.11.1.5).
type UnsolicitedHandler struct {
	sessions  *session.Manager
	callbacks Callbacks
}

// NewUnsolicitedHandler creates the handler.
func NewUnsolicitedHandler(sessions *session.Manager, callbacks Callbacks) *UnsolicitedHandler {
	return &UnsolicitedHandler{sessions: sessions, callbacks: callbacks}
}

// HandleStatusReport consumes a report received on the given secure
// session. Returns false when the report is not ours to handle and should
// continue up the stack.
func (h *UnsolicitedHandler) HandleStatusReport(localSessionID uint16, status *StatusReport) bool {
	if !status.IsSecureChannel() {
		return false
	}
	switch status.SecureChannelCode() {
	case ProtocolCodeCloseSession:
		return h.closeSession(localSessionID, status)
	case ProtocolCodeBusy:
		return h.busy(status)
	}
	return false
}

// closeSession tears down all local state for the session. CloseSession
// only ever arrives encrypted inside a PASE or CASE session; resumption
// state, if any, is the persistence collaborator's business.
func (h *UnsolicitedHandler) closeSession(localSessionID uint16, status *StatusReport) bool {
	if status.GeneralCode != GeneralCodeSuccess {
		return false
	}

	if ctx := h.sessions.FindSecureContext(localSessionID); ctx == nil {
		// Already gone; nothing to do but claim the report.
		return true
	}
	h.sessions.RemoveSecureContext(localSessionID)

	if h.callbacks.OnSessionClosed != nil {
		h.callbacks.OnSessionClosed(localSessionID)
	}
	return true
}

func (h *UnsolicitedHandler) busy(status *StatusReport) bool {
	if status.GeneralCode != GeneralCodeBusy {
		return false
	}
	if h.callbacks.OnResponderBusy != nil {
		h.callbacks.OnResponderBusy(status.BusyWaitTime())
	}
	return true
}

// SendCloseSession encodes the CloseSession report to send before tearing
// a session down locally.
func SendCloseSession() []byte {
	return CloseSession().Encode()
}

// SendBusy encodes a Busy report with the given minimum retry wait. Only
// legal as a reply to Sigma1 or PBKDFParamRequest, and never reliable.
func SendBusy(waitTimeMs uint16) []byte {
	return Busy(waitTimeMs).Encode()
}

// IsCloseSession reports whether status is a well-formed CloseSession.
func IsCloseSession(status *StatusReport) bool {
	return status.GeneralCode == GeneralCodeSuccess &&
		status.IsSecureChannel() &&
		status.SecureChannelCode() == ProtocolCodeCloseSession
}

// IsBusyStatus reports whether status is a well-formed Busy.
func IsBusyStatus(status *StatusReport) bool {
	return status.IsBusy()
}
