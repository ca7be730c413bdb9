package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type fileReconnect struct {
	Attempts     *int   `toml:"attempts"`
	InitialDelay string `toml:"initial_delay"`
	MaxDelay     string `toml:"max_delay"`
}

// fileClient represents the [client] section of the config file.
type fileClient struct {
	ServerURL       string        `toml:"server_url"`
	Domain          string        `toml:"domain"`
	Codec           string        `toml:"codec"`
	ICEServers      []ICEServer   `toml:"ice_servers"`
	ForceRelay      bool          `toml:"force_relay"`
	PeerWaitTimeout string        `toml:"peer_wait_timeout"`
	Reconnect       fileReconnect `toml:"reconnect"`
	Room            string        `toml:"room"`
	PeerID          string        `toml:"peer_id"`
	Video           string        `toml:"video"`
	Audio           string        `toml:"audio"`
	RecordDir       string        `toml:"record_dir"`
}

// fileServer represents the [server] section of the config file.
type fileServer struct {
	Listen         string   `toml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins"`
	SendQueueSize  int      `toml:"send_queue_size"`
	MaxMessageSize int64    `toml:"max_message_size"`
	PongWait       string   `toml:"pong_wait"`
	WriteWait      string   `toml:"write_wait"`
}

// fileConfig represents the overall structure of the config file.
type fileConfig struct {
	Client fileClient `toml:"client"`
	Server fileServer `toml:"server"`
}

// readFile parses the TOML file at path. An empty path yields an empty
// config.
func readFile(path string) (*fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return &cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(content), &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return &cfg, nil
}
