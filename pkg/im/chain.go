package im

import "context"

// entry binds a Handler to the (endpoint, cluster) pairs it serves.
type entry struct {
	endpoint uint16
	cluster  uint32
	handler  Handler
}

// Chain routes Interaction Model requests to registered handlers by linear
// scan over a flat slice of (endpoint, cluster, handler) bindings.
//
// The upstream implementation this core is modeled on built the handler
// chain as a type-level linked list of generically nested cluster types,
// resolved at compile time. A real node registers at most a few dozen
// (endpoint, cluster) pairs, so a flat slice with O(n) linear lookup gives
// the same dispatch semantics with none of the generic nesting.
type Chain struct {
	entries []entry
}

// NewChain creates an empty handler chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register binds handler to the given endpoint and cluster. Registering the
// same (endpoint, cluster) pair twice replaces the earlier binding.
func (c *Chain) Register(endpoint uint16, cluster uint32, handler Handler) {
	for i := range c.entries {
		if c.entries[i].endpoint == endpoint && c.entries[i].cluster == cluster {
			c.entries[i].handler = handler
			return
		}
	}
	c.entries = append(c.entries, entry{endpoint: endpoint, cluster: cluster, handler: handler})
}

// Unregister removes the binding for (endpoint, cluster), if any.
func (c *Chain) Unregister(endpoint uint16, cluster uint32) {
	for i := range c.entries {
		if c.entries[i].endpoint == endpoint && c.entries[i].cluster == cluster {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}

// lookup finds the handler for (endpoint, cluster), or nil.
func (c *Chain) lookup(endpoint uint16, cluster uint32) Handler {
	for i := range c.entries {
		if c.entries[i].endpoint == endpoint && c.entries[i].cluster == cluster {
			return c.entries[i].handler
		}
	}
	return nil
}

// HandleRead dispatches a read to the matching handler. Unmatched concrete
// paths and wildcard paths both terminate in ErrAttributeNotFound — this
// chain does not expand wildcards, that is the caller's (engine's) job once
// a real attribute enumeration collaborator is wired in.
func (c *Chain) HandleRead(ctx context.Context, path AttributePath) (AttributeDataIB, error) {
	endpoint, cluster, ok := path.EndpointCluster()
	if !ok {
		return AttributeDataIB{}, ErrAttributeNotFound
	}
	h := c.lookup(endpoint, cluster)
	if h == nil {
		return AttributeDataIB{}, ErrAttributeNotFound
	}
	return h.HandleRead(ctx, path)
}

// HandleWrite dispatches a write to the matching handler.
func (c *Chain) HandleWrite(ctx context.Context, path AttributePath, data []byte) error {
	endpoint, cluster, ok := path.EndpointCluster()
	if !ok {
		return ErrAttributeNotFound
	}
	h := c.lookup(endpoint, cluster)
	if h == nil {
		return ErrAttributeNotFound
	}
	return h.HandleWrite(ctx, path, data)
}

// HandleInvoke dispatches a command invocation to the matching handler.
func (c *Chain) HandleInvoke(ctx context.Context, txn *Transaction, cmd CommandPath, data []byte) (CommandResponse, error) {
	h := c.lookup(cmd.EndpointID, cmd.ClusterID)
	if h == nil {
		return CommandResponse{}, ErrCommandNotFound
	}
	return h.HandleInvoke(ctx, txn, cmd, data)
}

var _ Handler = (*Chain)(nil)
