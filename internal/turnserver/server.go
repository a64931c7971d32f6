// Package turnserver runs an optional embedded TURN/STUN relay so peers
// behind symmetric NAT can still establish media connections without
// external infrastructure.
package turnserver

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/turn/v4"

	"github.com/cwrk-planet/collab-service/config"
)

type Server struct {
	srv  *turn.Server
	addr string
}

// Start opens the UDP listener and starts serving TURN allocations with
// long-term credentials from the config.
func Start(cfg config.TURN) (*Server, error) {
	udpListener, err := net.ListenPacket("udp4", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("turn listen %s: %w", cfg.Addr, err)
	}

	users := make(map[string][]byte, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = turn.GenerateAuthKey(u.Username, cfg.Realm, u.Password)
	}

	srv, err := turn.NewServer(turn.ServerConfig{
		Realm: cfg.Realm,
		AuthHandler: func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
			key, ok := users[username]
			return key, ok
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: net.ParseIP(cfg.PublicIP),
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		_ = udpListener.Close()
		return nil, fmt.Errorf("turn server: %w", err)
	}

	slog.Info("turn listen", "addr", cfg.Addr, "realm", cfg.Realm, "relay", cfg.PublicIP)
	return &Server{srv: srv, addr: cfg.Addr}, nil
}

func (s *Server) Close() error {
	return s.srv.Close()
}
