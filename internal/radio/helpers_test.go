package radio

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/skypro1111/hpsdr-server/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ep6Frame builds an EP6 frame for numRX receivers. iq returns the raw
// 24-bit I and Q of sample n for receiver rx; mic returns the mic sample n.
func ep6Frame(seq uint32, numRX int, iq func(n, rx int) (int32, int32), mic func(n int) int16) []byte {
	payload := make([]byte, protocol.FramePayloadSize)
	groups := protocol.GroupsPerSubFrame(numRX)
	group := numRX*protocol.IQBytes + protocol.MicBytes

	n := 0
	for sub := 0; sub < 2; sub++ {
		p := payload[sub*protocol.PayloadSize:]
		for g := 0; g < groups; g++ {
			base := g * group
			for rx := 0; rx < numRX; rx++ {
				i, q := iq(n, rx)
				put24(p[base+rx*protocol.IQBytes:], i)
				put24(p[base+rx*protocol.IQBytes+3:], q)
			}
			binary.BigEndian.PutUint16(p[base+numRX*protocol.IQBytes:], uint16(mic(n)))
			n++
		}
	}

	frame := make([]byte, protocol.FrameSize)
	var cc [protocol.ControlSize]byte
	if err := protocol.BuildFrame(frame, protocol.EP6, seq, cc, cc, payload); err != nil {
		panic(err)
	}
	return frame
}

func ep4Frame(seq uint32, samples []int16) []byte {
	frame := make([]byte, protocol.FrameSize)
	frame[0], frame[1], frame[2], frame[3] = protocol.SyncByte0, protocol.SyncByte1, protocol.PacketData, protocol.EP4
	binary.BigEndian.PutUint32(frame[protocol.SequenceOffset:], seq)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(frame[protocol.HeaderSize+2*i:], uint16(s))
	}
	return frame
}

func put24(b []byte, v int32) {
	b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
}

func constIQ(i, q int32) func(int, int) (int32, int32) {
	return func(int, int) (int32, int32) { return i, q }
}

func constMic(v int16) func(int) int16 {
	return func(int) int16 { return v }
}

// captureSender records every frame it is given.
type captureSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *captureSender) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *captureSender) frame(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

// loopback returns a listening socket standing in for the server and one
// standing in for the radio.
func loopback(t *testing.T) (server, radio net.PacketConn) {
	t.Helper()
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	radio, err = net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		server.Close()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		server.Close()
		radio.Close()
	})
	return server, radio
}
