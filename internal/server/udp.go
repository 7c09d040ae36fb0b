package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/skypro1111/hpsdr-server/internal/config"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
)

var (
	ErrNoRadio      = errors.New("no radio found")
	ErrNotListening = errors.New("udp server is not listening")
)

// UDPServer owns the socket shared by discovery, the start/stop commands
// and the frame stream.
type UDPServer struct {
	conn   *net.UDPConn
	config *config.ServerConfig
	logger *slog.Logger

	mu        sync.RWMutex
	radioAddr *net.UDPAddr
	board     *protocol.DiscoveryReply

	discoveries uint64
	startsSent  uint64
	stopsSent   uint64
}

// ServerStatistics represents radio link state for monitoring
type ServerStatistics struct {
	LocalAddress string `json:"local_address,omitempty"`
	RadioAddress string `json:"radio_address,omitempty"`
	Board        string `json:"board,omitempty"`
	Discoveries  uint64 `json:"discoveries"`
	StartsSent   uint64 `json:"starts_sent"`
	StopsSent    uint64 `json:"stops_sent"`
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger) *UDPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPServer{
		config: cfg,
		logger: logger,
	}
}

// Start binds the socket. A configured radio address is resolved here;
// otherwise Discover must find one before the radio can be started.
func (s *UDPServer) Start() error {
	address := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.LocalPort))

	lc := net.ListenConfig{Control: socketControl}
	pc, err := lc.ListenPacket(context.Background(), "udp4", address)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	conn := pc.(*net.UDPConn)

	if err := conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}
	if err := conn.SetWriteBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP write buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	if s.config.RadioAddress != "" {
		addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(s.config.RadioAddress, strconv.Itoa(s.config.RadioPort)))
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to resolve radio address: %w", err)
		}
		s.mu.Lock()
		s.radioAddr = addr
		s.mu.Unlock()
	}

	s.conn = conn

	s.logger.Info("UDP server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)
	return nil
}

// Stop closes the socket
func (s *UDPServer) Stop() error {
	if s.conn == nil {
		return nil
	}

	s.logger.Info("Stopping UDP server...")
	err := s.conn.Close()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("discoveries", stats.Discoveries),
		slog.Uint64("starts_sent", stats.StartsSent),
		slog.Uint64("stops_sent", stats.StopsSent),
	)
	return err
}

// Discover sends discovery requests until a radio answers or the
// configured attempts run out. Datagrams that are not discovery replies
// are ignored. The answering radio becomes the target of every later
// command and frame.
func (s *UDPServer) Discover(ctx context.Context) (*protocol.DiscoveryReply, error) {
	if s.conn == nil {
		return nil, ErrNotListening
	}

	target, err := s.discoveryTarget()
	if err != nil {
		return nil, err
	}

	interval := s.config.GetDiscoveryIntervalDuration()
	buf := make([]byte, 2048)
	msg := protocol.DiscoverMessage()

	for attempt := 1; attempt <= s.config.DiscoveryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := s.conn.WriteToUDP(msg, target); err != nil {
			return nil, fmt.Errorf("failed to send discovery: %w", err)
		}
		s.logger.Debug("Discovery sent",
			slog.String("target", target.String()),
			slog.Int("attempt", attempt))

		deadline := time.Now().Add(interval)
		for {
			if err := s.conn.SetReadDeadline(deadline); err != nil {
				return nil, fmt.Errorf("failed to set read deadline: %w", err)
			}
			n, from, err := s.conn.ReadFromUDP(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					break
				}
				return nil, fmt.Errorf("failed to read discovery reply: %w", err)
			}

			reply, err := protocol.ParseDiscoveryReply(buf[:n])
			if err != nil {
				continue
			}
			reply.Address = from
			s.found(reply)
			return reply, nil
		}
	}

	s.conn.SetReadDeadline(time.Time{})
	return nil, fmt.Errorf("%w after %d attempts", ErrNoRadio, s.config.DiscoveryAttempts)
}

func (s *UDPServer) discoveryTarget() (*net.UDPAddr, error) {
	host := s.config.BroadcastAddress
	if s.config.RadioAddress != "" {
		host = s.config.RadioAddress
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(s.config.RadioPort)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve discovery address: %w", err)
	}
	return addr, nil
}

func (s *UDPServer) found(reply *protocol.DiscoveryReply) {
	s.conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.radioAddr = reply.Address
	s.board = reply
	s.discoveries++
	s.mu.Unlock()

	s.logger.Info("Radio discovered",
		slog.String("address", reply.Address.String()),
		slog.String("board", protocol.BoardName(reply.BoardID)),
		slog.String("mac", reply.MAC.String()),
		slog.Int("firmware", int(reply.Firmware)),
		slog.Bool("running", reply.Running),
	)
}

// HasRadio reports whether a radio address is known.
func (s *UDPServer) HasRadio() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.radioAddr != nil
}

// Conn returns the socket the frame stream uses.
func (s *UDPServer) Conn() net.PacketConn {
	return s.conn
}

// RadioAddr returns the radio's address, or nil before discovery.
func (s *UDPServer) RadioAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.radioAddr == nil {
		return nil
	}
	return s.radioAddr
}

// SendStart tells the radio to start streaming.
func (s *UDPServer) SendStart(wideband bool) error {
	if err := s.send(protocol.StartMessage(wideband)); err != nil {
		return err
	}
	s.mu.Lock()
	s.startsSent++
	s.mu.Unlock()
	s.logger.Info("Start sent to radio", slog.Bool("wideband", wideband))
	return nil
}

// SendStop tells the radio to stop streaming.
func (s *UDPServer) SendStop() error {
	if err := s.send(protocol.StopMessage()); err != nil {
		return err
	}
	s.mu.Lock()
	s.stopsSent++
	s.mu.Unlock()
	s.logger.Info("Stop sent to radio")
	return nil
}

func (s *UDPServer) send(msg []byte) error {
	if s.conn == nil {
		return ErrNotListening
	}
	s.mu.RLock()
	addr := s.radioAddr
	s.mu.RUnlock()
	if addr == nil {
		return ErrNoRadio
	}
	_, err := s.conn.WriteToUDP(msg, addr)
	return err
}

// GetStatistics returns current link statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ServerStatistics{
		Discoveries: s.discoveries,
		StartsSent:  s.startsSent,
		StopsSent:   s.stopsSent,
	}
	if s.conn != nil {
		stats.LocalAddress = s.conn.LocalAddr().String()
	}
	if s.radioAddr != nil {
		stats.RadioAddress = s.radioAddr.String()
	}
	if s.board != nil {
		stats.Board = s.board.String()
	}
	return stats
}
