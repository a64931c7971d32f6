package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/cwrk-planet/logger/pkg/logger"

	"github.com/cwrk-planet/collab-service/internal/client"
	"github.com/cwrk-planet/collab-service/internal/domain"
	"github.com/cwrk-planet/collab-service/internal/transport/ws"
)

var (
	flagServer string
	flagRoom   string
	flagName   string
	flagAudio  bool
	flagDebug  bool
)

func main() {
	root := &cobra.Command{
		Use:   "collab-agent",
		Short: "Headless participant for collab-service rooms",
	}

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and mirror its shared state",
		RunE:  runJoin,
	}
	joinCmd.Flags().StringVar(&flagServer, "server", "http://localhost:8000", "collab-service base URL")
	joinCmd.Flags().StringVar(&flagRoom, "room", "", "room id")
	joinCmd.Flags().StringVar(&flagName, "name", "", "display name")
	joinCmd.Flags().BoolVar(&flagAudio, "audio", false, "enable outgoing audio")
	joinCmd.Flags().BoolVar(&flagDebug, "debug", false, "debug logging")
	_ = joinCmd.MarkFlagRequired("room")
	_ = joinCmd.MarkFlagRequired("name")

	root.AddCommand(joinCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runJoin(cmd *cobra.Command, _ []string) error {
	logger.Init(logger.Config{
		Service: "collab-agent",
		Debug:   flagDebug,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	iceServers := fetchICEServers(ctx)

	// peer manager живёт от Joined до Joined: reconnect выдаёт новый
	// connection id, значит и новый набор транспортов
	var (
		peersMu sync.Mutex
		peers   *client.PeerManager
	)
	currentPeers := func() *client.PeerManager {
		peersMu.Lock()
		defer peersMu.Unlock()
		return peers
	}

	var sess *client.Session
	sess = client.NewSession(client.Options{
		ServerURL: flagServer,
		RoomID:    flagRoom,
		Username:  flagName,
		Handlers: client.Handlers{
			OnChat: func(m ws.ReceiveMessagePayload) {
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), m.Username, m.Message)
			},
			OnCode: func(code string) {
				slog.Info("code updated", "bytes", len(code))
			},
			OnCursor: func(username string, pos domain.CursorPosition) {
				slog.Debug("cursor", "user", username, "line", pos.LineNumber, "col", pos.Column)
			},
			OnJoined: func(ev ws.UserJoinedPayload) {
				slog.Info("user joined", "user", ev.Username, "count", ev.UserCount)
				if pm := currentPeers(); pm != nil {
					pm.HandleUserJoined(ev.SocketID)
				}
			},
			OnLeft: func(ev ws.UserLeftPayload) {
				slog.Info("user left", "user", ev.Username, "count", ev.UserCount)
				if pm := currentPeers(); pm != nil {
					pm.HandleUserLeft(ev.SocketID)
				}
			},
			OnSignal: func(fromID string, signal json.RawMessage) {
				if pm := currentPeers(); pm != nil {
					pm.HandleSignal(fromID, signal)
				}
			},
			OnState: func(st client.State) {
				slog.Info("session state", "state", st.String())
				if !flagAudio {
					return
				}
				peersMu.Lock()
				defer peersMu.Unlock()
				switch st {
				case client.StateJoined:
					if peers != nil {
						peers.Close()
					}
					peers = client.NewPeerManager(sess.ConnID(), iceServers, client.StaticMediaSource{}, sess.Signal)
					if err := peers.SetAudio(true); err != nil {
						slog.Warn("audio enable failed", "err", err)
					}
				case client.StateIdle, client.StateLeaving:
					if peers != nil {
						peers.Close()
						peers = nil
					}
				}
			},
		},
	})
	defer sess.Close()

	return sess.Run(ctx)
}

func fetchICEServers(ctx context.Context) []webrtc.ICEServer {
	api := client.NewAPIClient(flagServer)
	ice, err := api.ICEServers(ctx)
	if err != nil {
		slog.Warn("ice servers fetch failed", "err", err)
		return nil
	}
	var out []webrtc.ICEServer
	if len(ice.STUNURLs) > 0 {
		out = append(out, webrtc.ICEServer{URLs: ice.STUNURLs})
	}
	if len(ice.TURNURLs) > 0 {
		out = append(out, webrtc.ICEServer{URLs: ice.TURNURLs})
	}
	return out
}
