// Package matter wires the protocol-level managers (secure channel,
// interaction model) into exchange.Manager's protocol dispatch table. Each
// adapter here translates between exchange.ProtocolHandler's raw opcode/
// payload shape and the richer type the manager underneath actually wants.
package matter

import (
	"github.com/larkspur-iot/chip-core/pkg/exchange"
	"github.com/larkspur-iot/chip-core/pkg/im"
	"github.com/larkspur-iot/chip-core/pkg/securechannel"
)

// secureChannelAdapter adapts securechannel.Manager to exchange.ProtocolHandler.
type secureChannelAdapter struct {
	manager *securechannel.Manager
}

// newSecureChannelAdapter creates a new secure channel protocol adapter.
func newSecureChannelAdapter(manager *securechannel.Manager) *secureChannelAdapter {
	return &secureChannelAdapter{manager: manager}
}

// OnMessage handles a message on an existing exchange.
func (a *secureChannelAdapter) OnMessage(ctx *exchange.Exchange, opcode uint8, payload []byte) ([]byte, error) {
	return a.route(ctx, opcode, payload)
}

// OnUnsolicited handles a new unsolicited message.
func (a *secureChannelAdapter) OnUnsolicited(ctx *exchange.Exchange, opcode uint8, payload []byte) ([]byte, error) {
	return a.route(ctx, opcode, payload)
}

func (a *secureChannelAdapter) route(ctx *exchange.Exchange, opcode uint8, payload []byte) ([]byte, error) {
	resp, err := a.manager.Route(ctx.ID, securechannel.NewMessage(securechannel.Opcode(opcode), payload))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return resp.Payload, nil
}

// Verify secureChannelAdapter implements exchange.ProtocolHandler.
var _ exchange.ProtocolHandler = (*secureChannelAdapter)(nil)

// newIMAdapter creates the interaction model protocol adapter. im.Engine
// already implements exchange.ProtocolHandler directly, so this just
// documents the wiring point rather than introduce another wrapper type.
func newIMAdapter(engine *im.Engine) exchange.ProtocolHandler {
	return engine
}
