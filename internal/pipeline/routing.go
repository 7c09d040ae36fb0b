package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skypro1111/hpsdr-server/internal/protocol"
)

// Channel selects which side of the hardware output a route feeds.
type Channel int

const (
	ChannelLeft Channel = iota
	ChannelRight
	ChannelBoth
)

func (c Channel) String() string {
	switch c {
	case ChannelLeft:
		return "left"
	case ChannelRight:
		return "right"
	case ChannelBoth:
		return "both"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// ParseChannel parses left, right or both.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(s) {
	case "left":
		return ChannelLeft, nil
	case "right":
		return ChannelRight, nil
	case "both":
		return ChannelBoth, nil
	default:
		return 0, fmt.Errorf("unknown channel %q", s)
	}
}

func (c Channel) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Channel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseChannel(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// UnusedRX marks a route that feeds nothing.
const UnusedRX = -1

// Route assigns a receiver (1-based) to one or both sides of the hardware
// audio output.
type Route struct {
	RX      int     `json:"rx"`
	Channel Channel `json:"channel"`
}

// Routing is the two-entry route table of the hardware output.
type Routing [2]Route

// DefaultRouting leaves both routes unused, so both sides carry DSP
// channel 0.
func DefaultRouting() Routing {
	return Routing{
		{RX: UnusedRX, Channel: ChannelBoth},
		{RX: UnusedRX, Channel: ChannelBoth},
	}
}

// Validate checks every used route names an existing receiver.
func (r Routing) Validate(numRX int) error {
	for i, route := range r {
		if route.RX == UnusedRX {
			continue
		}
		if route.RX < 1 || route.RX > numRX || route.RX > protocol.MaxReceivers {
			return fmt.Errorf("route %d: receiver must be between 1 and %d, got %d", i, numRX, route.RX)
		}
		if route.Channel < ChannelLeft || route.Channel > ChannelBoth {
			return fmt.Errorf("route %d: invalid channel %d", i, route.Channel)
		}
	}
	return nil
}

// Channels resolves the DSP channels feeding the left and right sides.
// Later routes override earlier ones.
func (r Routing) Channels() (left, right int) {
	for _, route := range r {
		if route.RX == UnusedRX {
			continue
		}
		ch := route.RX - 1
		if route.Channel == ChannelLeft || route.Channel == ChannelBoth {
			left = ch
		}
		if route.Channel == ChannelRight || route.Channel == ChannelBoth {
			right = ch
		}
	}
	return left, right
}
