package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server defaults
const (
	DefaultListen         = ":8080"
	DefaultSendQueueSize  = 256
	DefaultMaxMessageSize = 64 * 1024
	DefaultPongWait       = 60 * time.Second
	DefaultWriteWait      = 10 * time.Second
)

// Server holds the relay configuration.
type Server struct {
	Listen string

	// AllowedOrigins lists browser origins allowed to open the websocket.
	// Empty allows every origin.
	AllowedOrigins []string

	SendQueueSize  int
	MaxMessageSize int64
	PongWait       time.Duration
	WriteWait      time.Duration
}

// ServerOptions carries `serve` flag overrides.
type ServerOptions struct {
	ConfigFile     string
	Listen         string
	AllowedOrigins []string
}

// LoadServer applies flags > env > TOML file > defaults.
func LoadServer(opts ServerOptions) (*Server, error) {
	file, err := readFile(first(opts.ConfigFile, os.Getenv("TANDEM_CONFIG")))
	if err != nil {
		return nil, err
	}
	fs := file.Server

	listen := first(opts.Listen, os.Getenv("TANDEM_LISTEN"), portAddr(os.Getenv("PORT")), fs.Listen, DefaultListen)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = splitList(os.Getenv("TANDEM_ALLOWED_ORIGINS"))
	}
	if len(origins) == 0 {
		origins = fs.AllowedOrigins
	}

	queue := DefaultSendQueueSize
	if fs.SendQueueSize > 0 {
		queue = fs.SendQueueSize
	}
	if v := os.Getenv("TANDEM_SEND_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("TANDEM_SEND_QUEUE_SIZE: invalid value %q", v)
		}
		queue = n
	}

	maxMsg := int64(DefaultMaxMessageSize)
	if fs.MaxMessageSize > 0 {
		maxMsg = fs.MaxMessageSize
	}

	pongWait, err := pickDuration(0, "TANDEM_PONG_WAIT", fs.PongWait, DefaultPongWait)
	if err != nil {
		return nil, fmt.Errorf("pong wait: %w", err)
	}
	writeWait, err := pickDuration(0, "TANDEM_WRITE_WAIT", fs.WriteWait, DefaultWriteWait)
	if err != nil {
		return nil, fmt.Errorf("write wait: %w", err)
	}
	if pongWait <= 0 || writeWait <= 0 {
		return nil, fmt.Errorf("pong wait and write wait must be positive")
	}

	return &Server{
		Listen:         listen,
		AllowedOrigins: origins,
		SendQueueSize:  queue,
		MaxMessageSize: maxMsg,
		PongWait:       pongWait,
		WriteWait:      writeWait,
	}, nil
}

func portAddr(port string) string {
	if port == "" {
		return ""
	}
	return ":" + port
}
