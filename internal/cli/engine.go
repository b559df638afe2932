package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatsync/pkg/client"
	"chatsync/pkg/client/cache"
	"chatsync/pkg/logger"
	"chatsync/pkg/wire"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/spf13/cobra"
)

// session is an engine over the on-disk cache of the configured user.
type session struct {
	cfg    *Config
	rest   *client.REST
	engine *client.Engine
	cache  cache.Cache
}

func initLogging(cmd *cobra.Command) {
	level := "error"
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = "debug"
	}
	logger.InitWriter(os.Stderr, level, "text")
}

func openSession(cmd *cobra.Command) (*session, error) {
	initLogging(cmd)
	cfg, err := requireConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.CachePath(), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	c, err := cache.OpenPebble(cfg.CachePath(), vfs.Default)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", cfg.CachePath(), err)
	}
	codecs := []wire.Codec{wire.JSON}
	if codec, ok := wire.Lookup(cfg.Codec); ok && codec != wire.JSON {
		codecs = []wire.Codec{codec, wire.JSON}
	}
	rest := client.NewREST(cfg.Server, cfg.Token)
	e, err := client.New(c, &client.WSDialer{URL: cfg.WSURL(), Token: cfg.Token, Codecs: codecs}, rest, client.Options{UserID: cfg.UserID})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &session{cfg: cfg, rest: rest, engine: e, cache: c}, nil
}

func (s *session) Close() error { return s.cache.Close() }

// run starts the engine in the background. The returned channel yields
// Run's result once ctx ends or the engine gives up.
func (s *session) run(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.engine.Run(ctx) }()
	return done
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printEntry(e *cache.Entry) {
	m := e.Message
	id := m.ID
	if id == "" {
		id = e.Key()
	}
	switch {
	case m.Deleted():
		fmt.Printf("#%d %s %s: (deleted) [%s]\n", m.Seq, id, m.SenderID, e.Status)
	case m.EditedTS != 0:
		fmt.Printf("#%d %s %s: %s (edited) [%s]\n", m.Seq, id, m.SenderID, m.Content, e.Status)
	default:
		fmt.Printf("#%d %s %s: %s [%s]\n", m.Seq, id, m.SenderID, m.Content, e.Status)
	}
}
