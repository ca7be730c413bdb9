package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/tandem/internal/call"
	"github.com/BioHazard786/tandem/internal/channel"
	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/logging"
	"github.com/BioHazard786/tandem/internal/media"
	"github.com/BioHazard786/tandem/internal/peer"
	"github.com/BioHazard786/tandem/internal/protocol"
	"github.com/BioHazard786/tandem/internal/ui"
)

// Hooks receive client events on the client's loop goroutine.
type Hooks struct {
	OnStatus func(call.Status)
	OnTrack  func(peer.RemoteTrack)
}

// NewCallClient wires the relay transport, the pion peer factory and file
// media into a call client for cfg.
func NewCallClient(cfg *config.Config, hooks Hooks) (*call.Client, error) {
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	api, err := peer.NewAPI(logging.PionFactory{Base: &log.Logger})
	if err != nil {
		return nil, call.WrapError("create webrtc api", call.ErrNegotiation, err)
	}

	resolver := &channel.Resolver{}
	dialURL := cfg.DialURL()
	dial := func(ctx context.Context) (call.Transport, error) {
		c, err := channel.Dial(ctx, dialURL, codec, resolver)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	var openMedia func() (peer.LocalMedia, error)
	if cfg.Media.Video != "" || cfg.Media.Audio != "" {
		video, audio := cfg.Media.Video, cfg.Media.Audio
		openMedia = func() (peer.LocalMedia, error) {
			src, err := media.OpenFiles(video, audio)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
	}

	return call.New(call.Options{
		RoomID:          cfg.RoomID,
		PeerID:          cfg.PeerID,
		Dial:            dial,
		NewPeer:         peer.NewPionFactory(api, peer.Configuration(cfg.ICEServers, cfg.ForceRelay)),
		OpenMedia:       openMedia,
		PeerWaitTimeout: cfg.PeerWaitTimeout,
		Reconnect:       cfg.Reconnect,
		OnStatus:        hooks.OnStatus,
		OnTrack:         hooks.OnTrack,
	})
}

// checkMedia opens and immediately stops the configured files so bad input
// is reported before joining.
func checkMedia(m config.Media) error {
	if m.Video == "" && m.Audio == "" {
		return nil
	}
	sp := ui.NewSimpleSpinner("Checking media files...")
	sp.Start()
	src, err := media.OpenFiles(m.Video, m.Audio)
	if err != nil {
		sp.Error("Media files rejected")
		return fmt.Errorf("open media: %w", err)
	}
	sp.Success(fmt.Sprintf("Streaming %d local track(s)", len(src.Tracks())))
	return src.Stop()
}
