package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/tandem/internal/call"
	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/logging"
	"github.com/BioHazard786/tandem/internal/media"
	"github.com/BioHazard786/tandem/internal/peer"
	"github.com/BioHazard786/tandem/internal/ui"
)

var (
	flagServer    string
	flagDomain    string
	flagCodec     string
	flagSTUN      []string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string
	flagRelay     bool
	flagPeerID    string
	flagPeerWait  time.Duration
	flagReconnect int
	flagVideo     string
	flagAudio     string
	flagRecordDir string
	flagPlain     bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room-id|url]",
	Aliases: []string{"j"},
	Short:   "Join a room and call whoever else joins it",
	Long: `Join a room on the relay. The first participant waits, the second one
triggers the WebRTC offer/answer exchange. Local media is streamed from
IVF (VP8/VP9/AV1) and Ogg/Opus files; the partner's tracks can be recorded.

Examples:
  tandem join standup
  tandem join https://relay.example.com/r/standup --video cam.ivf --audio mic.ogg
  tandem join standup --record ./recordings --relay --turn turn.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := config.Options{
			ConfigFile:  flagConfig,
			ServerURL:   flagServer,
			Domain:      flagDomain,
			Codec:       flagCodec,
			STUNServers: flagSTUN,
			TURNServer:  flagTURN,
			TURNUser:    flagTURNUser,
			TURNPass:    flagTURNPass,
			ForceRelay:  flagRelay,
			PeerWait:    flagPeerWait,
			PeerID:      flagPeerID,
			Video:       flagVideo,
			Audio:       flagAudio,
			RecordDir:   flagRecordDir,
		}
		if len(args) == 1 {
			opts.Room = args[0]
		}
		if cmd.Flags().Changed("reconnect") {
			opts.ReconnectAttempts = &flagReconnect
		}
		return joinRoom(cmd.Context(), opts)
	},
}

func joinRoom(parent context.Context, opts config.Options) error {
	// The live view owns the terminal; logs are opt-in through LOG_LEVEL.
	if flagPlain {
		logging.Init(zerolog.InfoLevel)
	} else {
		logging.Init(zerolog.Disabled)
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := checkMedia(cfg.Media); err != nil {
		return err
	}

	fmt.Println()
	ui.RenderRoomInfo(ui.RoomInfo{RoomID: cfg.RoomID, RoomLink: cfg.RoomLink(), PeerID: cfg.PeerID})
	if len(cfg.TURNServers()) > 0 {
		ui.PrintInfof("TURN configured (relay only: %t)", cfg.ForceRelay)
	}
	if cfg.Media.Video == "" && cfg.Media.Audio == "" {
		ui.PrintInfo("No local media given, receiving only")
	}

	rec := media.NewRecorder(cfg.Media.RecordDir)

	var live *ui.CallUI
	stopSpinner := func() {}
	hooks := Hooks{
		OnStatus: func(st call.Status) {
			if live != nil {
				live.SetStatus(st)
				return
			}
			stopSpinner()
			printStatus(st)
		},
		OnTrack: func(t peer.RemoteTrack) {
			if live != nil {
				live.AddTrack(t.Kind().String())
			}
			if err := rec.Record(t); err != nil {
				log.Error().Err(err).Str("track_id", t.ID()).Msg("Failed to record track")
			}
		},
	}

	client, err := NewCallClient(cfg, hooks)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagPlain {
		fmt.Println()
		stopSpinner = ui.RunConnectionSpinner("Connecting to relay...")
		defer stopSpinner()
	} else {
		live = ui.NewCallUI(client.Close)
		live.Start()
	}

	started := time.Now()
	client.Join()
	runErr := client.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	if live != nil {
		live.Stop()
	}
	rec.Wait()

	fmt.Println()
	ui.RenderCallSummary(ui.CallSummary{
		Status:   client.Status(),
		Stats:    client.Stats(),
		Duration: time.Since(started),
	})
	ui.RenderTrackTable(rec.Stats())

	return runErr
}

func printStatus(st call.Status) {
	switch {
	case st.Err != nil:
		ui.PrintWarning(fmt.Sprintf("[%s] %s: %v", st.Phase, st.Message, st.Err))
	case st.Phase == call.PhaseConnected && st.Message != "":
		ui.PrintSuccess(fmt.Sprintf("[%s] %s", st.Phase, st.Message))
	case st.Message != "":
		ui.PrintInfof("[%s] %s", st.Phase, st.Message)
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagServer, "server", "", "Relay websocket URL (ws:// or wss://)")
	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Relay domain, used as wss://<domain>/ws")
	joinCmd.Flags().StringVar(&flagCodec, "codec", "", "Wire codec: json or msgpack")
	joinCmd.Flags().StringSliceVarP(&flagSTUN, "stun", "s", nil, "STUN server (repeatable)")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringVar(&flagPeerID, "peer-id", "", "Peer id (random by default)")
	joinCmd.Flags().DurationVar(&flagPeerWait, "peer-wait", 0, "How long to wait before reporting that nobody joined")
	joinCmd.Flags().IntVar(&flagReconnect, "reconnect", config.DefaultReconnects, "Relay reconnect attempts (0 disables)")
	joinCmd.Flags().StringVar(&flagVideo, "video", "", "IVF file to stream as video")
	joinCmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg/Opus file to stream as audio")
	joinCmd.Flags().StringVar(&flagRecordDir, "record", "", "Directory to record the partner's tracks into")
	joinCmd.Flags().BoolVar(&flagPlain, "plain", false, "Print status lines instead of the live view")
}
