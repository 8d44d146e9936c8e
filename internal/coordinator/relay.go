// ABOUTME: Point-to-point remote control delivery
// ABOUTME: Forwards control_device to exactly one target connection
package coordinator

import (
	"github.com/Vimlesh-Kumar/zync/internal/protocol"
	"github.com/rs/zerolog/log"
)

// relay forwards a control action to its target only. The action is opaque here.
func (c *Coordinator) relay(from string, cmd protocol.ControlDevice) {
	if _, ok := c.registry.Get(cmd.TargetID); !ok {
		log.Warn().Str("client", from).Str("target", cmd.TargetID).Str("action", cmd.Action).Msg("control target not connected")
		return
	}

	log.Debug().Str("client", from).Str("target", cmd.TargetID).Str("action", cmd.Action).Msg("relaying control")
	c.out.Send(cmd.TargetID, protocol.KindRemoteControl, protocol.RemoteControl{
		Action: cmd.Action,
		Value:  cmd.Value,
	})
}
