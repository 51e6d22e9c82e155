package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/armon/go-metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/transport"
)

type config struct {
	addr        string
	envelope    bool
	idleTimeout time.Duration
	debug       bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg config

	cmd := &cobra.Command{
		Use:          "echo",
		Short:        "Echo every framed message back to the peer that sent it",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.addr, "addr", "localhost:8009", "address to listen on")
	flags.BoolVar(&cfg.envelope, "envelope", false, "frame messages as CBOR envelopes")
	flags.DurationVar(&cfg.idleTimeout, "idle-timeout", 30*time.Second, "connection idle timeout")
	flags.BoolVar(&cfg.debug, "debug", false, "enable debug logging")

	return cmd
}

// server accepts connections and runs one echoing transport per connection.
// Every transport lives on the same loop.
type server struct {
	cfg      config
	loop     *transport.Loop
	logger   transport.Logger
	framer   transport.Framer
	errorLog transport.ErrorLog
}

func run(ctx context.Context, cfg config) error {
	level := zerolog.InfoLevel
	if cfg.debug {
		level = zerolog.DebugLevel
	}
	logger := transport.NewZerologLogger(
		zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger(),
	)

	// Send SIGUSR1 to dump transport metrics to stderr.
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(sink)
	metricsConfig := metrics.DefaultConfig("echo")
	metricsConfig.EnableRuntimeMetrics = false
	if _, err := metrics.NewGlobal(metricsConfig, sink); err != nil {
		return errors.Wrap(err, "metrics")
	}

	var framer transport.Framer = transport.NewLengthPrefixFramer(0)
	if cfg.envelope {
		f, err := transport.NewEnvelopeFramer(0)
		if err != nil {
			return err
		}
		framer = f
	}

	ln, err := net.Listen("tcp", cfg.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.addr)
	}
	logger.Info("listening", "addr", ln.Addr().String(), "envelope", cfg.envelope)

	s := &server{
		cfg:      cfg,
		loop:     transport.NewLoop(),
		logger:   logger,
		framer:   framer,
		errorLog: transport.NewErrorLog(0),
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.loop.Run(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	group.Go(func() error {
		for channelID := 1; ; channelID++ {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "accept")
			}

			id := channelID
			group.Go(func() error {
				s.handle(ctx, conn, id)
				return nil
			})
		}
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handle serves conn until the peer goes away or ctx is done.
func (s *server) handle(ctx context.Context, conn net.Conn, channelID int) {
	sock := transport.NewNetSocket(conn, s.loop,
		transport.SocketLoggerOption(s.logger),
		transport.IdleTimeoutOption(s.cfg.idleTimeout),
	)

	var tr *transport.Transport
	delegate := transport.DelegateFuncs{
		Message: func(m transport.Message) {
			tr.SendMessage(m, func(err error) {
				if err != nil {
					s.logger.Debug("echo failed", "channel_id", channelID, "error", err)
				}
			})
		},
		Error: func(state transport.ChannelError, lastErrors []transport.ErrorEntry) {
			s.logger.Info("channel failed", "channel_id", channelID, "error_state", state.String(), "recent_errors", len(lastErrors))
			tr.Close()
			_ = sock.Close()
		},
	}

	err := s.loop.Do(ctx, func() {
		var err error
		tr, err = transport.New(sock, delegate,
			transport.FramerOption(s.framer),
			transport.LoggerOption(s.logger),
			transport.ErrorLogOption(s.errorLog),
			transport.ChannelIDOption(channelID),
			transport.RemoteAddrOption(conn.RemoteAddr()),
		)
		if err != nil {
			s.logger.Error("create transport", "channel_id", channelID, "error", err)
			return
		}
		tr.StartReading()
	})
	if err != nil || tr == nil {
		_ = sock.Close()
		return
	}

	s.logger.Info("channel open", "channel_id", channelID, "remote_addr", conn.RemoteAddr().String())
	_ = sock.Run(ctx)

	s.loop.Post(tr.Close)
	s.logger.Info("channel closed", "channel_id", channelID)
}
