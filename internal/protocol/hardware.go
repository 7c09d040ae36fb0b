package protocol

import (
	"errors"
	"fmt"
	"net"
)

// Hardware message constants. Discovery and start/stop messages are padded
// to HardwareMessageSize and sent to HardwarePort.
const (
	HardwareMessageSize = 63
	HardwarePort        = 1024

	DiscoveryReplyIdle    = 0x02
	DiscoveryReplyRunning = 0x03

	startIQ         = 0x01
	startIQAndScope = 0x03
)

var ErrDiscoveryReply = errors.New("invalid discovery reply")

// Board identifiers reported in a discovery reply
const (
	BoardMetis      = 0x00
	BoardHermes     = 0x01
	BoardGriffin    = 0x02
	BoardAngelia    = 0x04
	BoardOrion      = 0x05
	BoardHermesLite = 0x06
)

// BoardName returns a display name for a discovery board id.
func BoardName(id byte) string {
	switch id {
	case BoardMetis:
		return "Metis"
	case BoardHermes:
		return "Hermes"
	case BoardGriffin:
		return "Griffin"
	case BoardAngelia:
		return "Angelia"
	case BoardOrion:
		return "Orion"
	case BoardHermesLite:
		return "Hermes-Lite"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", id)
	}
}

// DiscoveryReply is the parsed answer of a radio to a discovery broadcast.
type DiscoveryReply struct {
	Running  bool             `json:"running"`
	MAC      net.HardwareAddr `json:"-"`
	Firmware byte             `json:"firmware"`
	BoardID  byte             `json:"board_id"`
	Address  *net.UDPAddr     `json:"-"`
}

func (r *DiscoveryReply) String() string {
	return fmt.Sprintf("%s mac=%s fw=%d.%d running=%t",
		BoardName(r.BoardID), r.MAC, r.Firmware/10, r.Firmware%10, r.Running)
}

func hardwareMessage(b ...byte) []byte {
	msg := make([]byte, HardwareMessageSize)
	copy(msg, b)
	return msg
}

// DiscoverMessage returns the discovery broadcast.
func DiscoverMessage() []byte {
	return hardwareMessage(SyncByte0, SyncByte1, PacketDiscover)
}

// StartMessage returns the start command, optionally enabling the
// wideband scope stream.
func StartMessage(wideband bool) []byte {
	mode := byte(startIQ)
	if wideband {
		mode = startIQAndScope
	}
	return hardwareMessage(SyncByte0, SyncByte1, PacketControl, mode)
}

// StopMessage returns the stop command.
func StopMessage() []byte {
	return hardwareMessage(SyncByte0, SyncByte1, PacketControl, 0x00)
}

// ParseDiscoveryReply decodes a discovery reply datagram.
func ParseDiscoveryReply(data []byte) (*DiscoveryReply, error) {
	if len(data) < 11 {
		return nil, fmt.Errorf("%w: %d bytes", ErrDiscoveryReply, len(data))
	}
	if data[0] != SyncByte0 || data[1] != SyncByte1 {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryReply, ErrSync)
	}
	if data[2] != DiscoveryReplyIdle && data[2] != DiscoveryReplyRunning {
		return nil, fmt.Errorf("%w: status 0x%02x", ErrDiscoveryReply, data[2])
	}

	mac := make(net.HardwareAddr, 6)
	copy(mac, data[3:9])

	return &DiscoveryReply{
		Running:  data[2] == DiscoveryReplyRunning,
		MAC:      mac,
		Firmware: data[9],
		BoardID:  data[10],
	}, nil
}
