package db

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/onnwee/vimm-chat/chat"
	"github.com/onnwee/vimm-chat/telemetry"
)

// DefaultQueueSize is the archive queue length used when none is given.
const DefaultQueueSize = 1024

const writeTimeout = 5 * time.Second

const insertMessage = `INSERT INTO chat_messages (id, hive_account, username, message, timestamp)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

// Archive is a chat.Sink that persists messages in the background.
type Archive struct {
	db      *sql.DB
	queue   chan chat.Message
	logger  *slog.Logger
	dropped atomic.Uint64
}

var _ chat.Sink = (*Archive)(nil)

// NewArchive returns an archive writing to database through a queue of size
// entries (DefaultQueueSize when size <= 0).
func NewArchive(database *sql.DB, size int) *Archive {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Archive{
		db:     database,
		queue:  make(chan chat.Message, size),
		logger: slog.Default().With(slog.String("component", "archive")),
	}
}

// Consume queues m for writing. When the queue is full the message is
// dropped and counted.
func (a *Archive) Consume(m chat.Message) {
	select {
	case a.queue <- m:
	default:
		a.dropped.Add(1)
		telemetry.RecordArchive(false)
	}
}

// Dropped returns how many messages were discarded because the queue was full.
func (a *Archive) Dropped() uint64 { return a.dropped.Load() }

// Run writes queued messages until ctx is done, then flushes what is left
// with a short grace period.
func (a *Archive) Run(ctx context.Context) {
	a.logger.Info("chat archive started")
	for {
		select {
		case <-ctx.Done():
			a.flush()
			a.logger.Info("chat archive stopped")
			return
		case m := <-a.queue:
			// Shutdown must not abort a write already dequeued.
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			a.write(wctx, m)
			cancel()
		}
	}
}

// Start runs the archive in a goroutine. The returned channel is closed once
// Run has flushed the queue after ctx is done.
func (a *Archive) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()
	return done
}

func (a *Archive) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for {
		select {
		case m := <-a.queue:
			a.write(ctx, m)
		default:
			return
		}
	}
}

func (a *Archive) write(ctx context.Context, m chat.Message) {
	_, err := a.db.ExecContext(ctx, insertMessage, m.ID, m.Account, m.Username, m.Text, m.Timestamp)
	if err != nil {
		a.logger.Error("failed to archive chat message", slog.Any("err", err), slog.String("id", m.ID))
		return
	}
	telemetry.RecordArchive(true)
}
