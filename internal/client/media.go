package client

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrMediaBusy возвращается, когда операция с медиа уже выполняется:
// захват устройства строго последовательный, параллельные запросы отклоняются.
var ErrMediaBusy = errors.New("media operation already in flight")

// MediaSource abstracts capture-device acquisition. Acquisition can fail
// (permission denied, device busy); callers must treat a failure as the
// toggle staying off.
type MediaSource interface {
	AudioTrack() (webrtc.TrackLocal, error)
	VideoTrack() (webrtc.TrackLocal, error)
}

// StaticMediaSource выдаёт статические sample-треки. Реальные источники
// (устройства захвата) подключаются реализацией MediaSource на стороне
// конкретного клиента.
type StaticMediaSource struct{}

func (StaticMediaSource) AudioTrack() (webrtc.TrackLocal, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "collab",
	)
}

func (StaticMediaSource) VideoTrack() (webrtc.TrackLocal, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "collab",
	)
}
