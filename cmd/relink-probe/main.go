// Command relink-probe exercises a relink client against a live WebSocket
// endpoint: it connects, emits numbered probe messages at a fixed cadence, and
// logs status transitions, deliveries, and failures until interrupted.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/relink-io/relink"
	"github.com/relink-io/relink/sqlitestore"
	"github.com/relink-io/relink/wstransport"
)

const (
	defaultInterval  = 1 * time.Second
	defaultHeartbeat = 30 * time.Second
	queueStorageKey  = "relink-probe"
)

var (
	errURLRequired        = errors.New("relink-probe: -url is required")
	errReconnectExhausted = errors.New("relink-probe: reconnect attempts exhausted")
)

type config struct {
	url       string
	interval  time.Duration
	count     int
	queuePath string
	heartbeat time.Duration
	debug     bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.url, "url", "", "WebSocket endpoint (ws:// or wss://)")
	flag.DurationVar(&cfg.interval, "interval", defaultInterval, "delay between probe messages")
	flag.IntVar(&cfg.count, "count", 0, "number of probe messages to send (0 = until interrupted)")
	flag.StringVar(&cfg.queuePath, "queue", "", "SQLite file for durable queue storage (empty = in-memory)")
	flag.DurationVar(&cfg.heartbeat, "heartbeat", defaultHeartbeat, "heartbeat interval (0 disables)")
	flag.BoolVar(&cfg.debug, "debug", false, "enable debug logging")
	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	if cfg.url == "" {
		return errURLRequired
	}

	logger, err := newLogger(cfg.debug)
	if err != nil {
		return fmt.Errorf("relink-probe: build logger failed: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []relink.Option{
		relink.WithLogger(relink.NewZapLogger(sugar)),
		relink.WithHeartbeatInterval(cfg.heartbeat),
	}

	if cfg.queuePath != "" {
		queue, closeDB, qErr := durableQueue(ctx, cfg.queuePath, sugar)
		if qErr != nil {
			return qErr
		}
		defer closeDB()
		opts = append(opts, relink.WithQueue(queue))
	}

	dialer, err := wstransport.NewDialer(cfg.url)
	if err != nil {
		return err
	}

	sup := relink.NewSupervisor(dialer, opts...)
	defer func() {
		_ = sup.Close()
	}()

	failed := make(chan struct{})
	var failedOnce sync.Once
	unsubStatus := sup.OnStatusChange(func(old, next relink.Status) {
		sugar.Infow("status change", "from", old.String(), "to", next.String())
		if next == relink.StatusFailed {
			failedOnce.Do(func() {
				close(failed)
			})
		}
	})
	defer unsubStatus()

	unsubErr := sup.OnError(func(err error) {
		sugar.Warnw("recovered error", "err", err)
	})
	defer unsubErr()

	unsubEcho := sup.Subscribe("probe", relink.HandlerFunc(func(msg relink.Message) {
		sugar.Infow("probe echoed", "payload", string(msg.Payload))
	}))
	defer unsubEcho()

	sup.Connect()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sendLoop(ctx, sup, cfg)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-failed:
			return errReconnectExhausted
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	sugar.Infow("probe finished", "queued", sup.Queue().Size())

	return nil
}

func sendLoop(ctx context.Context, sup *relink.Supervisor, cfg config) error {
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for seq := 1; cfg.count <= 0 || seq <= cfg.count; seq++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		payload := map[string]any{
			"seq":     seq,
			"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := sup.Send(ctx, "probe", payload); err != nil {
			return fmt.Errorf("relink-probe: send failed: %w", err)
		}
	}

	return nil
}

func durableQueue(ctx context.Context, path string, sugar *zap.SugaredLogger) (*relink.Queue, func(), error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("relink-probe: open queue db failed: %w", err)
	}
	closeDB := func() {
		_ = db.Close()
	}

	store, err := sqlitestore.NewStore(db)
	if err != nil {
		closeDB()

		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		closeDB()

		return nil, nil, err
	}

	queue, err := relink.NewQueue(
		relink.WithQueueStorage(store, queueStorageKey),
		relink.WithQueueLogger(relink.NewZapLogger(sugar)),
		relink.WithDeliveryFailureHandler(func(msg relink.QueuedMessage, err error) {
			sugar.Warnw("message dropped after retries",
				"id", msg.ID.String(), "type", msg.Type, "err", err)
		}),
		relink.WithOverflowHandler(func(evicted relink.QueuedMessage) {
			sugar.Warnw("queue overflow", "evicted_id", evicted.ID.String())
		}),
	)
	if err != nil {
		closeDB()

		return nil, nil, err
	}

	return queue, closeDB, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}
