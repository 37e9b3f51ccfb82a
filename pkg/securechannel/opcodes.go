// Package securechannel implements the Matter Secure Channel Protocol:
// the opcode dispatcher that drives PASE session establishment, decodes
// status reports, and installs completed secure sessions.
//
// See Matter Specification Section 4.11.
package securechannel

import "fmt"

// ProtocolID is the Secure Channel protocol identifier (always 0).
const ProtocolID uint16 = 0x0000

// Opcode is a Secure Channel message type (table 18).
type Opcode uint8

const (
	// Message counter synchronization (group messaging).
	OpcodeMsgCounterSyncReq  Opcode = 0x00
	OpcodeMsgCounterSyncResp Opcode = 0x01

	// MRP.
	OpcodeStandaloneAck Opcode = 0x10

	// PASE.
	OpcodePBKDFParamRequest  Opcode = 0x20
	OpcodePBKDFParamResponse Opcode = 0x21
	OpcodePASEPake1          Opcode = 0x22
	OpcodePASEPake2          Opcode = 0x23
	OpcodePASEPake3          Opcode = 0x24

	// CASE.
	OpcodeCASESigma1       Opcode = 0x30
	OpcodeCASESigma2       Opcode = 0x31
	OpcodeCASESigma3       Opcode = 0x32
	OpcodeCASESigma2Resume Opcode = 0x33

	OpcodeStatusReport Opcode = 0x40
	OpcodeICDCheckIn   Opcode = 0x50
)

var opcodeNames = map[Opcode]string{
	OpcodeMsgCounterSyncReq:  "MsgCounterSyncReq",
	OpcodeMsgCounterSyncResp: "MsgCounterSyncResp",
	OpcodeStandaloneAck:      "StandaloneAck",
	OpcodePBKDFParamRequest:  "PBKDFParamRequest",
	OpcodePBKDFParamResponse: "PBKDFParamResponse",
	OpcodePASEPake1:          "PASE_Pake1",
	OpcodePASEPake2:          "PASE_Pake2",
	OpcodePASEPake3:          "PASE_Pake3",
	OpcodeCASESigma1:         "CASE_Sigma1",
	OpcodeCASESigma2:         "CASE_Sigma2",
	OpcodeCASESigma3:         "CASE_Sigma3",
	OpcodeCASESigma2Resume:   "CASE_Sigma2Resume",
	OpcodeStatusReport:       "StatusReport",
	OpcodeICDCheckIn:         "ICD_CheckIn",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(o))
}

// IsPASE reports whether o belongs to the PASE handshake.
func (o Opcode) IsPASE() bool {
	return o >= OpcodePBKDFParamRequest && o <= OpcodePASEPake3
}

// IsCASE reports whether o is one of the reserved CASE sigma opcodes.
func (o Opcode) IsCASE() bool {
	return o >= OpcodeCASESigma1 && o <= OpcodeCASESigma2Resume
}
