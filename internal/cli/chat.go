package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/contacts"
	"chatsync/internal/recording"
	"chatsync/internal/session"
	"chatsync/internal/transport"
	"chatsync/internal/upload"
)

const chatHelp = `commands: /record /pause /resume /stop /retry /pending /quit (anything else is sent as text)`

func NewChatCmd(deps *Dependencies) *cobra.Command {
	var loop bool

	cmd := &cobra.Command{
		Use:   "chat <peer>",
		Short: "Open a conversation",
		Long:  "Open a conversation with a peer by id or username.\nUse --loopback to talk to a scripted peer without a server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, deps, args[0], loop, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&loop, "loopback", false, "Use an in-process server with an echo peer")
	return cmd
}

type chatEnv struct {
	backend   transport.Backend
	directory transport.Directory
	push      func() (transport.Push, error)
}

func runChat(ctx context.Context, deps *Dependencies, peerArg string, loop bool, in io.Reader, out io.Writer) error {
	cfg, log := deps.Config, deps.Log
	serveMetrics(ctx, cfg.MetricsAddr, deps.Metrics, log)

	var (
		env chatEnv
		lb  *loopback
	)
	if loop {
		lb = newLoopback(cfg.UserID, log)
		env = chatEnv{
			backend:   lb.backend,
			directory: lb.backend,
			push:      func() (transport.Push, error) { return lb.hub, nil },
		}
	} else {
		rc := newBackend(cfg, log)
		env = chatEnv{
			backend:   rc,
			directory: rc,
			push:      func() (transport.Push, error) { return newPush(cfg, log) },
		}
	}

	peerID, peerName := peerArg, peerArg
	dir := contacts.NewDirectory(env.directory, cfg.UserID)
	if err := dir.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("contacts unavailable, using peer as given")
	} else if c, ok := dir.Resolve(peerArg); ok {
		peerID, peerName = c.ID, c.Username
	}
	if lb != nil {
		lb.startPeer(ctx, peerID)
	}

	mgr := session.NewManager(session.Options{
		SelfID:       cfg.UserID,
		PollInterval: cfg.PollInterval,
		MatchWindow:  cfg.MatchWindow,
	}, func(peer string) (session.Deps, error) {
		push, err := env.push()
		if err != nil {
			return session.Deps{}, err
		}
		return session.Deps{
			Backend: env.backend,
			Push:    push,
			Journal: deps.Journal,
			Metrics: deps.Metrics,
			Log:     log.With().Str("component", "session").Logger(),
		}, nil
	})
	sess, err := mgr.Open(ctx, peerID)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	out = &lockedWriter{w: out}
	fmt.Fprintf(out, "chatting with %s\n%s\n", peerName, chatHelp)
	p := newPrinter(out, "me", peerName)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for range sess.Updates() {
			p.print(sess.Timeline())
		}
	}()
	defer func() {
		if err := mgr.CloseAll(); err != nil {
			log.Warn().Err(err).Msg("close sessions")
		}
		<-printed
	}()

	c := &chatController{
		sess:     sess,
		out:      out,
		uploader: upload.New(env.backend, uint64(cfg.MaxUploadSize), deps.Metrics, log.With().Str("component", "upload").Logger()),
		recorder: recording.NewController(
			cfg.RecordingDir,
			func() recording.Device {
				return recording.NewFFmpegDevice(cfg.FFmpegInputFormat, cfg.FFmpegInputDevice, log.With().Str("component", "ffmpeg").Logger())
			},
			recording.BinaryPermission("ffmpeg"),
			log.With().Str("component", "recording").Logger(),
		),
	}
	defer c.close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// chatController turns input lines into session and recording actions.
type chatController struct {
	sess     *session.Session
	out      io.Writer
	uploader *upload.Uploader
	recorder *recording.Controller

	rec         *recording.Session
	lastCapture string
}

func (c *chatController) handle(ctx context.Context, line string) (quit bool) {
	switch strings.TrimSpace(line) {
	case "/quit", "/exit":
		return true
	case "/record":
		c.startRecording(ctx)
	case "/pause":
		c.report(c.withRecording(func(r *recording.Session) error { return r.Pause() }), "paused")
	case "/resume":
		c.report(c.withRecording(func(r *recording.Session) error { return r.Resume() }), "recording")
	case "/stop":
		c.stopAndUpload(ctx)
	case "/retry":
		if c.lastCapture == "" {
			fmt.Fprintln(c.out, "nothing to retry")
			return false
		}
		c.upload(ctx, c.lastCapture)
	case "/pending":
		stale := c.sess.StalePending(30 * time.Second)
		fmt.Fprintf(c.out, "%d pending, %d older than 30s\n", c.sess.PendingCount(), len(stale))
	case "":
	default:
		if _, err := c.sess.Send(line); err != nil {
			fmt.Fprintf(c.out, "send: %v\n", err)
		}
	}
	return false
}

func (c *chatController) startRecording(ctx context.Context) {
	if c.rec != nil && c.rec.State() != recording.StateStopped {
		fmt.Fprintln(c.out, "already recording")
		return
	}
	r := c.recorder.NewSession()
	r.OnTick(func(d time.Duration) { fmt.Fprintf(c.out, "\rrecording %s", recording.FormatElapsed(d)) })
	if err := r.Start(ctx); err != nil {
		switch {
		case errors.Is(err, recording.ErrPermissionDenied):
			fmt.Fprintln(c.out, "microphone unavailable: install ffmpeg and grant audio access")
		default:
			fmt.Fprintf(c.out, "record: %v\n", err)
		}
		return
	}
	c.rec = r
	fmt.Fprintln(c.out, "recording... /pause /resume /stop")
}

func (c *chatController) withRecording(fn func(*recording.Session) error) error {
	if c.rec == nil {
		return errors.New("not recording")
	}
	return fn(c.rec)
}

func (c *chatController) report(err error, ok string) {
	if err != nil {
		fmt.Fprintf(c.out, "%v\n", err)
		return
	}
	fmt.Fprintln(c.out, ok)
}

func (c *chatController) stopAndUpload(ctx context.Context) {
	if c.rec == nil {
		fmt.Fprintln(c.out, "not recording")
		return
	}
	path, err := c.rec.Stop()
	if err != nil {
		fmt.Fprintf(c.out, "\nrecording failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "\nrecorded %s\n", recording.FormatElapsed(c.rec.Elapsed()))
	c.lastCapture = path
	c.upload(ctx, path)
}

func (c *chatController) upload(ctx context.Context, path string) {
	if _, err := c.sess.UploadRecording(ctx, c.uploader, path); err != nil {
		fmt.Fprintf(c.out, "upload failed, /retry to try again: %v\n", err)
		return
	}
	c.lastCapture = ""
}

func (c *chatController) close() {
	if c.rec != nil {
		c.rec.Close()
	}
}
