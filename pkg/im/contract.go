// Package im defines the external handler-chain contract the node runtime
// dispatches Interaction Model traffic to. The Interaction Model protocol
// itself — attribute paths, TLV-encoded reports, the cluster data model —
// belongs to an external collaborator; this package only specifies the
// shape of that collaborator and a small chain to route requests to it.
//
// See Matter Specification Section 8 (Interaction Model) for the wire
// protocol this contract stands in for.
package im

import (
	"context"
	"errors"
)

// ProtocolID is the Interaction Model protocol identifier carried in the
// protocol header (message.ProtocolInteractionModel).
const ProtocolID uint16 = 0x0001

// Errors returned by chain dispatch when no handler claims a request.
var (
	ErrAttributeNotFound = errors.New("im: attribute not found")
	ErrCommandNotFound    = errors.New("im: command not found")
)

// AttributePath identifies an attribute to read or write. A nil field means
// a wildcard in that position; the handler chain only needs to resolve
// concrete (endpoint, cluster) pairs, so wildcard expansion is left to the
// external handler.
type AttributePath struct {
	NodeID      *uint64
	EndpointID  *uint16
	ClusterID   *uint32
	AttributeID *uint32
	ListIndex   *uint16
}

// EndpointCluster returns the concrete (endpoint, cluster) pair this path
// targets, and false if either is a wildcard.
func (p AttributePath) EndpointCluster() (endpoint uint16, cluster uint32, ok bool) {
	if p.EndpointID == nil || p.ClusterID == nil {
		return 0, 0, false
	}
	return *p.EndpointID, *p.ClusterID, true
}

// CommandPath identifies an invoked command.
type CommandPath struct {
	EndpointID uint16
	ClusterID  uint32
	CommandID  uint32
}

// AttributeDataIB is the value returned from a successful read. Data holds
// the TLV-encoded attribute value; encoding it is the external collaborator's
// job (see pkg/tlv), not this package's.
type AttributeDataIB struct {
	Path        AttributePath
	DataVersion uint32
	Data        []byte
}

// CommandResponse is the value returned from a successful invoke. A nil
// Data with CommandID 0 means a plain status response with no payload.
type CommandResponse struct {
	CommandID uint32
	Data      []byte
}

// Transaction threads per-invoke bookkeeping (timed-interaction state,
// the originating exchange) through to the command handler.
type Transaction struct {
	ExchangeID uint16
	Timed      bool
}

// Handler is the external collaborator contract: a cluster implementation
// that serves reads, writes and invokes for the clusters it knows about.
type Handler interface {
	HandleRead(ctx context.Context, path AttributePath) (AttributeDataIB, error)
	HandleWrite(ctx context.Context, path AttributePath, data []byte) error
	HandleInvoke(ctx context.Context, txn *Transaction, cmd CommandPath, data []byte) (CommandResponse, error)
}
