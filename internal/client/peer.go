package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
)

// signalEnvelope — формат payload-а, который ходит через signaling relay.
// Сервер его не разбирает; это контракт только между клиентами.
type signalEnvelope struct {
	Kind      string                   `json:"kind"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// SignalSender доставляет payload согласования указанному участнику
// (через Session.Signal). Доставка fire-and-forget.
type SignalSender func(targetID string, signal json.RawMessage) error

type peer struct {
	id string
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	pending     []webrtc.ICECandidateInit // кандидаты до remote description
	makingOffer bool
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	inbound     int // количество входящих треков
}

// PeerManager держит по одному согласованному транспорту на каждого
// удалённого участника, пока активен локальный интерес к медиа.
//
// Glare: если обе стороны отправили offer одновременно, уступает сторона
// с лексикографически меньшим connection id — она откатывает свой offer
// и отвечает на входящий; большая сторона входящий offer игнорирует.
type PeerManager struct {
	localID string
	iceCfg  webrtc.Configuration
	src     MediaSource
	send    SignalSender

	mu     sync.Mutex
	peers  map[string]*peer
	closed bool

	// acquisition lock: одна операция с медиа за раз
	mediaMu    chan struct{}
	audioOn    bool
	videoOn    bool
	audioTrack webrtc.TrackLocal
	videoTrack webrtc.TrackLocal
}

func NewPeerManager(localID string, iceServers []webrtc.ICEServer, src MediaSource, send SignalSender) *PeerManager {
	return &PeerManager{
		localID: localID,
		iceCfg:  webrtc.Configuration{ICEServers: iceServers},
		src:     src,
		send:    send,
		peers:   make(map[string]*peer),
		mediaMu: make(chan struct{}, 1),
	}
}

// HandleUserJoined создаёт транспорт к новому участнику и, поскольку наша
// сторона наблюдала join, инициирует согласование — если активен локальный
// интерес к медиа. Без медиа транспорт создаётся лениво, по входящему offer.
func (m *PeerManager) HandleUserJoined(remoteID string) {
	if remoteID == m.localID {
		return
	}

	m.mu.Lock()
	if m.closed || !(m.audioOn || m.videoOn) {
		m.mu.Unlock()
		return
	}
	p, err := m.ensurePeerLocked(remoteID)
	m.mu.Unlock()
	if err != nil {
		slog.Warn("peer create failed", "remote", remoteID, "err", err)
		return
	}

	m.negotiate(p)
}

// HandleUserLeft закрывает и выбрасывает транспорт ушедшего вместе со
// входящим потоком.
func (m *PeerManager) HandleUserLeft(remoteID string) {
	m.mu.Lock()
	p, ok := m.peers[remoteID]
	if ok {
		delete(m.peers, remoteID)
	}
	m.mu.Unlock()
	if ok {
		_ = p.pc.Close()
		slog.Debug("peer closed", "remote", remoteID)
	}
}

// HandleSignal применяет адресованный нам payload согласования.
func (m *PeerManager) HandleSignal(fromID string, raw json.RawMessage) {
	var env signalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Debug("peer malformed signal", "from", fromID, "err", err)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	p, ok := m.peers[fromID]
	if !ok {
		if env.Kind != signalOffer {
			// answer/candidate для неизвестного транспорта: потерянное
			// согласование, отбрасываем — инициатор повторит
			m.mu.Unlock()
			return
		}
		var err error
		p, err = m.ensurePeerLocked(fromID)
		if err != nil {
			m.mu.Unlock()
			slog.Warn("peer create failed", "remote", fromID, "err", err)
			return
		}
	}
	m.mu.Unlock()

	switch env.Kind {
	case signalOffer:
		m.handleOffer(p, env.SDP)
	case signalAnswer:
		m.handleAnswer(p, env.SDP)
	case signalCandidate:
		if env.Candidate != nil {
			m.handleCandidate(p, *env.Candidate)
		}
	}
}

// SetAudio включает/выключает исходящий звук. Отклоняет запрос, если другая
// операция с медиа ещё в полёте. При отказе захвата тумблер остаётся "off".
func (m *PeerManager) SetAudio(enabled bool) error {
	return m.setMedia(enabled, &m.audioOn, &m.audioTrack, m.src.AudioTrack, audioSenderOf)
}

func (m *PeerManager) SetVideo(enabled bool) error {
	return m.setMedia(enabled, &m.videoOn, &m.videoTrack, m.src.VideoTrack, videoSenderOf)
}

func audioSenderOf(p *peer) **webrtc.RTPSender { return &p.audioSender }
func videoSenderOf(p *peer) **webrtc.RTPSender { return &p.videoSender }

func (m *PeerManager) setMedia(enabled bool, on *bool, track *webrtc.TrackLocal, acquire func() (webrtc.TrackLocal, error), senderOf func(*peer) **webrtc.RTPSender) error {
	select {
	case m.mediaMu <- struct{}{}:
	default:
		return ErrMediaBusy
	}
	defer func() { <-m.mediaMu }()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if *on == enabled {
		m.mu.Unlock()
		return nil
	}

	if enabled {
		m.mu.Unlock()
		t, err := acquire() // может блокироваться на доступе к устройству
		m.mu.Lock()
		if err != nil || m.closed {
			// отказ устройства: тумблер откатывается в "off",
			// полузаведённых транспортов не остаётся
			*on = false
			m.mu.Unlock()
			if err != nil {
				return fmt.Errorf("media acquire: %w", err)
			}
			return ErrSessionClosed
		}
		*track = t
		*on = true
	} else {
		*on = false
		*track = nil
	}

	// пересобрать исходящие треки всех транспортов; renegotiation только там,
	// где набор треков реально изменился
	var renegotiate []*peer
	for _, p := range m.peers {
		changed, err := m.syncTracksLocked(p, senderOf, *track)
		if err != nil {
			slog.Warn("peer track sync failed", "remote", p.id, "err", err)
			continue
		}
		if changed {
			renegotiate = append(renegotiate, p)
		}
	}
	m.mu.Unlock()

	for _, p := range renegotiate {
		m.negotiate(p)
	}
	return nil
}

// syncTracksLocked приводит исходящий трек одного транспорта к желаемому.
// Возвращает true, если требуется renegotiation (добавление/удаление;
// ReplaceTrack обходится без него).
func (m *PeerManager) syncTracksLocked(p *peer, senderOf func(*peer) **webrtc.RTPSender, track webrtc.TrackLocal) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sender := senderOf(p)
	switch {
	case track != nil && *sender == nil:
		sn, err := p.pc.AddTrack(track)
		if err != nil {
			return false, err
		}
		*sender = sn
		return true, nil
	case track != nil && *sender != nil:
		return false, (*sender).ReplaceTrack(track)
	case track == nil && *sender != nil:
		if err := p.pc.RemoveTrack(*sender); err != nil {
			return false, err
		}
		*sender = nil
		return true, nil
	default:
		return false, nil
	}
}

// HasPeer — есть ли транспорт к участнику.
func (m *PeerManager) HasPeer(remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[remoteID]
	return ok
}

// InboundTracks — число входящих медиапотоков от участника.
func (m *PeerManager) InboundTracks(remoteID string) int {
	m.mu.Lock()
	p, ok := m.peers[remoteID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inbound
}

// Close закрывает все транспорты; вызывается при выходе из комнаты
// или teardown клиента.
func (m *PeerManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	peers := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.peers = make(map[string]*peer)
	m.mu.Unlock()

	for _, p := range peers {
		_ = p.pc.Close()
	}
}

// dropPeer выбрасывает запись и закрывает её транспорт вместе с входящим
// потоком. Сравнение указателей: запись могла быть уже пересоздана.
func (m *PeerManager) dropPeer(remoteID string, p *peer) {
	m.mu.Lock()
	if cur, ok := m.peers[remoteID]; ok && cur == p {
		delete(m.peers, remoteID)
	}
	m.mu.Unlock()
	_ = p.pc.Close()
}

// --- negotiation ---

func (m *PeerManager) ensurePeerLocked(remoteID string) (*peer, error) {
	if p, ok := m.peers[remoteID]; ok {
		return p, nil
	}

	pc, err := webrtc.NewPeerConnection(m.iceCfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &peer{id: remoteID, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		m.sendEnvelope(remoteID, signalEnvelope{Kind: signalCandidate, Candidate: &init})
	})
	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.mu.Lock()
		p.inbound++
		p.mu.Unlock()
		slog.Debug("peer inbound track", "remote", remoteID, "kind", tr.Kind().String())
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		slog.Debug("peer state", "remote", remoteID, "state", st.String())
		if st == webrtc.PeerConnectionStateFailed || st == webrtc.PeerConnectionStateClosed {
			// транспорт умер: запись выбрасывается и закрывается,
			// join-событие пересоздаст; горутина — колбэк не должен
			// закрывать pc из собственного обработчика
			go m.dropPeer(remoteID, p)
		}
	})

	// исходящие треки по текущему состоянию тумблеров
	if m.audioTrack != nil {
		if sn, err := pc.AddTrack(m.audioTrack); err == nil {
			p.audioSender = sn
		}
	}
	if m.videoTrack != nil {
		if sn, err := pc.AddTrack(m.videoTrack); err == nil {
			p.videoSender = sn
		}
	}

	m.peers[remoteID] = p
	return p, nil
}

func (m *PeerManager) negotiate(p *peer) {
	p.mu.Lock()
	p.makingOffer = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.makingOffer = false
		p.mu.Unlock()
	}()

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		slog.Warn("peer create offer failed", "remote", p.id, "err", err)
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		slog.Warn("peer set local offer failed", "remote", p.id, "err", err)
		return
	}
	m.sendEnvelope(p.id, signalEnvelope{Kind: signalOffer, SDP: p.pc.LocalDescription().SDP})
}

func (m *PeerManager) handleOffer(p *peer, sdp string) {
	p.mu.Lock()
	collision := p.makingOffer || p.pc.SignalingState() != webrtc.SignalingStateStable
	p.mu.Unlock()

	if collision {
		// уступает меньший id: он откатывает свой offer и отвечает
		polite := m.localID < p.id
		if !polite {
			slog.Debug("peer glare: ignoring offer", "remote", p.id)
			return
		}
		if err := p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			slog.Warn("peer rollback failed", "remote", p.id, "err", err)
			return
		}
	}

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		slog.Warn("peer set remote offer failed", "remote", p.id, "err", err)
		return
	}
	m.flushCandidates(p)

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		slog.Warn("peer create answer failed", "remote", p.id, "err", err)
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		slog.Warn("peer set local answer failed", "remote", p.id, "err", err)
		return
	}

	// комнату могли покинуть, пока мы согласовывали — перепроверка
	if !m.HasPeer(p.id) {
		return
	}
	m.sendEnvelope(p.id, signalEnvelope{Kind: signalAnswer, SDP: p.pc.LocalDescription().SDP})
}

func (m *PeerManager) handleAnswer(p *peer, sdp string) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		slog.Warn("peer set remote answer failed", "remote", p.id, "err", err)
		return
	}
	m.flushCandidates(p)
}

// handleCandidate применяет кандидата сразу, если remote description уже
// установлен, иначе ставит в очередь: ранний кандидат не повод его терять.
func (m *PeerManager) handleCandidate(p *peer, init webrtc.ICECandidateInit) {
	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		slog.Debug("peer add candidate failed", "remote", p.id, "err", err)
	}
}

func (m *PeerManager) flushCandidates(p *peer) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			slog.Debug("peer flush candidate failed", "remote", p.id, "err", err)
		}
	}
}

func (m *PeerManager) sendEnvelope(targetID string, env signalEnvelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := m.send(targetID, raw); err != nil {
		slog.Debug("peer signal send failed", "target", targetID, "err", err)
	}
}
