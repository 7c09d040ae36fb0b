package pipeline

import (
	"encoding/json"
	"testing"
)

func TestRoutingChannels(t *testing.T) {
	tests := []struct {
		name      string
		routing   Routing
		wantLeft  int
		wantRight int
	}{
		{"default", DefaultRouting(), 0, 0},
		{
			name:      "rx2 both",
			routing:   Routing{{RX: 2, Channel: ChannelBoth}, {RX: UnusedRX, Channel: ChannelBoth}},
			wantLeft:  1,
			wantRight: 1,
		},
		{
			name:      "split receivers",
			routing:   Routing{{RX: 1, Channel: ChannelLeft}, {RX: 3, Channel: ChannelRight}},
			wantLeft:  0,
			wantRight: 2,
		},
		{
			name:      "later route overrides",
			routing:   Routing{{RX: 1, Channel: ChannelBoth}, {RX: 2, Channel: ChannelRight}},
			wantLeft:  0,
			wantRight: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, right := tt.routing.Channels()
			if left != tt.wantLeft || right != tt.wantRight {
				t.Errorf("Expected %d,%d got %d,%d", tt.wantLeft, tt.wantRight, left, right)
			}
		})
	}
}

func TestRoutingValidate(t *testing.T) {
	if err := DefaultRouting().Validate(1); err != nil {
		t.Errorf("Unexpected error for default routing: %v", err)
	}

	r := Routing{{RX: 2, Channel: ChannelLeft}, {RX: UnusedRX}}
	if err := r.Validate(1); err == nil {
		t.Error("Expected error for receiver beyond num_rx")
	}
	if err := r.Validate(2); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	r = Routing{{RX: 1, Channel: Channel(7)}, {RX: UnusedRX}}
	if err := r.Validate(1); err == nil {
		t.Error("Expected error for invalid channel")
	}
}

func TestChannelJSON(t *testing.T) {
	data, err := json.Marshal(Route{RX: 2, Channel: ChannelRight})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"rx":2,"channel":"right"}` {
		t.Errorf("Unexpected JSON %s", data)
	}

	var route Route
	if err := json.Unmarshal([]byte(`{"rx":1,"channel":"Both"}`), &route); err != nil {
		t.Fatal(err)
	}
	if route.RX != 1 || route.Channel != ChannelBoth {
		t.Errorf("Expected rx 1 both, got %+v", route)
	}

	if err := json.Unmarshal([]byte(`{"rx":1,"channel":"middle"}`), &route); err == nil {
		t.Error("Expected error for unknown channel")
	}
}
