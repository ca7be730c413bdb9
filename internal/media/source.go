package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const streamID = "tandem"

// FileSource streams IVF video and Ogg/Opus audio files as local media,
// looping each file until stopped.
type FileSource struct {
	tracks []webrtc.TrackLocal
	log    zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// OpenFiles prepares tracks for the given files. Either path may be empty,
// but not both.
func OpenFiles(videoPath, audioPath string) (*FileSource, error) {
	if videoPath == "" && audioPath == "" {
		return nil, errors.New("no media files given")
	}

	s := &FileSource{
		log:  log.With().Str("component", "media").Logger(),
		stop: make(chan struct{}),
	}

	if videoPath != "" {
		mime, err := probeIVF(videoPath)
		if err != nil {
			return nil, err
		}
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		s.tracks = append(s.tracks, track)
		s.run(func() error { return s.playIVF(videoPath, track) })
	}

	if audioPath != "" {
		if err := probeOgg(audioPath); err != nil {
			return nil, err
		}
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		s.tracks = append(s.tracks, track)
		s.run(func() error { return s.playOgg(audioPath, track) })
	}

	return s, nil
}

func (s *FileSource) Tracks() []webrtc.TrackLocal { return s.tracks }

// Stop ends playback and waits for the readers to exit.
func (s *FileSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

func (s *FileSource) run(play func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if err := play(); err != nil {
				s.log.Error().Err(err).Msg("Media playback stopped")
				return
			}
			select {
			case <-s.stop:
				return
			default:
			}
		}
	}()
}

func probeIVF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	switch header.FourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("%s: unsupported video codec %q", path, header.FourCC)
}

func probeOgg(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, _, err := oggreader.NewWith(f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// playIVF writes one pass of the file. It returns nil at end of file or on
// stop.
func (s *FileSource) playIVF(path string, track *webrtc.TrackLocalStaticSample) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}

	// Send our video file frame at a time. Pace our sending so we send it at
	// the same speed it should be played back as.
	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000) * time.Millisecond
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return nil
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

// oggPageDuration is the usual Opus page length.
const oggPageDuration = 20 * time.Millisecond

func (s *FileSource) playOgg(path string, track *webrtc.TrackLocalStaticSample) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}
	sampleRate := float64(header.SampleRate)
	if sampleRate == 0 {
		sampleRate = 48000
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-s.stop:
			return nil
		case <-ticker.C:
		}

		pageData, pageHeader, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		// The amount of samples is the difference between the last and
		// current timestamp.
		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration(sampleCount/sampleRate*1000) * time.Millisecond
		if duration <= 0 {
			duration = oggPageDuration
		}

		if err := track.WriteSample(pionmedia.Sample{Data: pageData, Duration: duration}); err != nil {
			return err
		}
	}
}
