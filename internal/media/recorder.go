package media

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/tandem/internal/peer"
)

// TrackStats summarizes one received track.
type TrackStats struct {
	ID      string
	Kind    string
	Codec   string
	Packets uint64
	Bytes   uint64
	File    string
}

// Recorder consumes the partner's tracks. With a directory it saves them to
// IVF (video) and Ogg (Opus audio) files; without one it only drains them.
type Recorder struct {
	dir string
	log zerolog.Logger
	now func() time.Time

	mu    sync.Mutex
	stats map[string]*TrackStats
	wg    sync.WaitGroup
}

func NewRecorder(dir string) *Recorder {
	return &Recorder{
		dir:   dir,
		log:   log.With().Str("component", "recorder").Logger(),
		now:   time.Now,
		stats: make(map[string]*TrackStats),
	}
}

// Record starts consuming track in its own goroutine. It returns once the
// output, if any, has been created.
func (r *Recorder) Record(track peer.RemoteTrack) error {
	mime := track.Codec().MimeType
	st := &TrackStats{ID: track.ID(), Kind: track.Kind().String(), Codec: mime}

	var writer pionmedia.Writer
	if r.dir != "" {
		path, w, err := r.open(track, mime)
		if err != nil {
			return err
		}
		st.File, writer = path, w
	}

	r.mu.Lock()
	r.stats[track.ID()] = st
	r.mu.Unlock()

	l := r.log.With().Str("track_id", track.ID()).Str("codec", mime).Logger()
	l.Info().Str("file", st.File).Msg("Receiving track")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if writer != nil {
			defer writer.Close()
		}

		writeFailed := false
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				l.Debug().Err(err).Msg("Track ended")
				return
			}

			r.mu.Lock()
			st.Packets++
			st.Bytes += uint64(len(pkt.Payload))
			r.mu.Unlock()

			if writer == nil {
				continue
			}
			if err := writer.WriteRTP(pkt); err != nil && !writeFailed {
				// Usually packets before the first keyframe; reported once.
				writeFailed = true
				l.Debug().Err(err).Msg("Failed to write packet")
			}
		}
	}()
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (r *Recorder) open(track peer.RemoteTrack, mime string) (string, pionmedia.Writer, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", nil, err
	}

	base := fmt.Sprintf("%s-%s-%s",
		r.now().Format("20060102-150405"),
		unsafeChars.ReplaceAllString(track.StreamID(), "_"),
		track.Kind().String())

	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		path := filepath.Join(r.dir, base+".ogg")
		w, err := oggwriter.New(path, 48000, 2)
		if err != nil {
			return "", nil, fmt.Errorf("create %s: %w", path, err)
		}
		return path, w, nil

	case strings.EqualFold(mime, webrtc.MimeTypeVP8),
		strings.EqualFold(mime, webrtc.MimeTypeAV1):
		path := filepath.Join(r.dir, base+".ivf")
		w, err := ivfwriter.New(path, ivfwriter.WithCodec(mime))
		if err != nil {
			return "", nil, fmt.Errorf("create %s: %w", path, err)
		}
		return path, w, nil
	}

	// Codecs without a container here are drained only.
	r.log.Warn().Str("codec", mime).Msg("No recorder for codec, draining track")
	return "", nil, nil
}

// Wait blocks until every recorded track has ended.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Stats returns per-track counters ordered by track id.
func (r *Recorder) Stats() []TrackStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TrackStats, 0, len(r.stats))
	for _, st := range r.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
