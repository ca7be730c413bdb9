package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default configuration values
const (
	DefaultServerURL    = "ws://localhost:8080/ws"
	DefaultRoom         = "webrtc"
	DefaultCodec        = "json"
	DefaultPeerWait     = 30 * time.Second
	DefaultReconnects   = 5
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
)

// DefaultSTUNServers are used when no ICE server is configured anywhere.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ICEServer is one STUN or TURN entry handed to the peer connection.
type ICEServer struct {
	URLs       []string `toml:"urls"`
	Username   string   `toml:"username"`
	Credential string   `toml:"credential"`
}

// ReconnectPolicy controls how the client redials a lost relay connection.
type ReconnectPolicy struct {
	// Attempts is the number of redials before giving up. Zero disables
	// reconnection.
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Delay returns the wait before redial number attempt (starting at 1). It
// doubles each time and is capped at MaxDelay.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Media names optional local files to stream and where to record the
// partner's tracks.
type Media struct {
	Video     string
	Audio     string
	RecordDir string
}

// Config holds the client configuration.
type Config struct {
	// ServerURL is the relay's websocket endpoint.
	ServerURL string

	// Codec is the wire codec requested from the relay ("json" or "msgpack").
	Codec string

	ICEServers []ICEServer

	// ForceRelay restricts ICE to TURN relay candidates.
	ForceRelay bool

	// PeerWaitTimeout is how long to wait for a partner before telling the
	// user that nobody has joined yet.
	PeerWaitTimeout time.Duration

	Reconnect ReconnectPolicy

	RoomID string
	PeerID string

	Media Media
}

// Options for loading config with CLI flag overrides. Zero values mean
// "not set on the command line".
type Options struct {
	ConfigFile string

	ServerURL string
	Domain    string
	Codec     string

	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	PeerWait          time.Duration
	ReconnectAttempts *int

	Room   string
	PeerID string

	Video     string
	Audio     string
	RecordDir string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. TOML config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	path := first(opts.ConfigFile, os.Getenv("TANDEM_CONFIG"))
	file, err := readFile(path)
	if err != nil {
		return nil, err
	}
	fc := file.Client

	// Server URL: an explicit URL wins over a domain at the same level.
	serverURL := first(opts.ServerURL, domainURL(opts.Domain),
		os.Getenv("TANDEM_SERVER_URL"), domainURL(os.Getenv("DOMAIN")),
		fc.ServerURL, domainURL(fc.Domain), DefaultServerURL)
	if u, err := url.Parse(serverURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("invalid server url %q: want ws:// or wss://", serverURL)
	}

	codec := strings.ToLower(first(opts.Codec, os.Getenv("TANDEM_CODEC"), fc.Codec, DefaultCodec))
	if codec != "json" && codec != "msgpack" {
		return nil, fmt.Errorf("unknown codec %q", codec)
	}

	iceServers, err := loadICEServers(opts, fc.ICEServers)
	if err != nil {
		return nil, err
	}

	forceRelay := opts.ForceRelay || envBool("TANDEM_RELAY") || fc.ForceRelay
	if forceRelay && !hasTURN(iceServers) {
		return nil, errors.New("cannot force relay mode without TURN server configured")
	}

	peerWait, err := pickDuration(opts.PeerWait, "TANDEM_PEER_WAIT", fc.PeerWaitTimeout, DefaultPeerWait)
	if err != nil {
		return nil, fmt.Errorf("peer wait timeout: %w", err)
	}

	reconnect, err := loadReconnect(opts, fc.Reconnect)
	if err != nil {
		return nil, err
	}

	peerID := first(opts.PeerID, os.Getenv("TANDEM_PEER_ID"), fc.PeerID)
	if peerID == "" {
		peerID = uuid.NewString()
	}

	return &Config{
		ServerURL:       serverURL,
		Codec:           codec,
		ICEServers:      iceServers,
		ForceRelay:      forceRelay,
		PeerWaitTimeout: peerWait,
		Reconnect:       reconnect,
		RoomID:          ParseRoom(first(opts.Room, os.Getenv("TANDEM_ROOM"), fc.Room)),
		PeerID:          peerID,
		Media: Media{
			Video:     first(opts.Video, fc.Video),
			Audio:     first(opts.Audio, fc.Audio),
			RecordDir: first(opts.RecordDir, fc.RecordDir),
		},
	}, nil
}

// ParseRoom extracts a room id from user input. It accepts a bare id, a URL
// carrying ?room=<id>, or a share link ending in /r/<id>. Empty input yields
// DefaultRoom.
func ParseRoom(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return DefaultRoom
	}
	if strings.Contains(input, "://") || strings.HasPrefix(input, "?") || strings.Contains(input, "/") {
		if u, err := url.Parse(input); err == nil {
			if room := u.Query().Get("room"); room != "" {
				return room
			}
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			for i := 0; i+1 < len(parts); i++ {
				if parts[i] == "r" && parts[i+1] != "" {
					return parts[i+1]
				}
			}
			if strings.HasPrefix(input, "?") {
				return DefaultRoom
			}
		}
	}
	return input
}

// RoomLink returns a shareable link for the configured room.
func (c *Config) RoomLink() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return c.RoomID
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/r/%s", scheme, u.Host, url.PathEscape(c.RoomID))
}

// DialURL is ServerURL with the codec query parameter attached.
func (c *Config) DialURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return c.ServerURL
	}
	q := u.Query()
	q.Set("codec", c.Codec)
	u.RawQuery = q.Encode()
	return u.String()
}

// TURNServers returns the TURN entries, if any.
func (c *Config) TURNServers() []ICEServer {
	var out []ICEServer
	for _, s := range c.ICEServers {
		if isTURN(s) {
			out = append(out, s)
		}
	}
	return out
}

func loadICEServers(opts Options, fromFile []ICEServer) ([]ICEServer, error) {
	stun := opts.STUNServers
	if len(stun) == 0 {
		stun = splitList(os.Getenv("STUN_SERVER"))
	}
	turnHost := first(opts.TURNServer, os.Getenv("TURN_SERVER"))
	turnUser := first(opts.TURNUser, os.Getenv("TURN_USERNAME"))
	turnPass := first(opts.TURNPass, os.Getenv("TURN_PASSWORD"))

	// Flags and env replace the file's list as a whole.
	if len(stun) == 0 && turnHost == "" {
		if len(fromFile) > 0 {
			for _, s := range fromFile {
				if len(s.URLs) == 0 {
					return nil, errors.New("ice server entry without urls")
				}
			}
			return fromFile, nil
		}
		stun = DefaultSTUNServers
	}

	var servers []ICEServer
	if len(stun) > 0 {
		servers = append(servers, ICEServer{URLs: stun})
	}
	if turnHost != "" {
		servers = append(servers, ICEServer{
			URLs:       turnURLs(turnHost),
			Username:   turnUser,
			Credential: turnPass,
		})
	}
	return servers, nil
}

// turnURLs expands a bare TURN host into UDP, TCP and TLS URLs. A value that
// already names a scheme is used as is.
func turnURLs(host string) []string {
	if strings.HasPrefix(host, "turn:") || strings.HasPrefix(host, "turns:") {
		return []string{host}
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

func isTURN(s ICEServer) bool {
	for _, u := range s.URLs {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

func hasTURN(servers []ICEServer) bool {
	for _, s := range servers {
		if isTURN(s) {
			return true
		}
	}
	return false
}

func loadReconnect(opts Options, fr fileReconnect) (ReconnectPolicy, error) {
	p := ReconnectPolicy{Attempts: DefaultReconnects}
	if fr.Attempts != nil {
		p.Attempts = *fr.Attempts
	}
	if v := os.Getenv("TANDEM_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("TANDEM_RECONNECT_ATTEMPTS: %w", err)
		}
		p.Attempts = n
	}
	if opts.ReconnectAttempts != nil {
		p.Attempts = *opts.ReconnectAttempts
	}
	if p.Attempts < 0 {
		return p, fmt.Errorf("reconnect attempts must be >= 0, got %d", p.Attempts)
	}

	var err error
	if p.InitialDelay, err = pickDuration(0, "", fr.InitialDelay, DefaultInitialDelay); err != nil {
		return p, fmt.Errorf("reconnect initial delay: %w", err)
	}
	if p.MaxDelay, err = pickDuration(0, "", fr.MaxDelay, DefaultMaxDelay); err != nil {
		return p, fmt.Errorf("reconnect max delay: %w", err)
	}
	return p, nil
}

// pickDuration applies flag > env > file > default for a duration.
func pickDuration(flag time.Duration, envKey, fileVal string, fallback time.Duration) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	if envKey != "" {
		if v := os.Getenv(envKey); v != "" {
			return time.ParseDuration(v)
		}
	}
	if fileVal != "" {
		return time.ParseDuration(fileVal)
	}
	return fallback, nil
}

func domainURL(domain string) string {
	if domain == "" {
		return ""
	}
	return fmt.Sprintf("wss://%s/ws", domain)
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
