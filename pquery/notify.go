package pquery

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cardstack/pgsearch/pgstore"
	"github.com/lib/pq"
	"github.com/pentops/log.go/log"
	"github.com/pentops/sqrlx.go/sqrlx"
)

type Notification struct {
	Channel string
	Payload string
}

// Notifier listens for Postgres notifications. Each Listen holds its own
// connection, outside any pool, for as long as its action runs.
type Notifier struct {
	dsn string

	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
}

func NewNotifier(dsn string) *Notifier {
	return &Notifier{
		dsn:                  dsn,
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
	}
}

// Listen calls onNotify for each notification on the channel while action
// runs. The listener is closed when action returns, and its error is
// returned.
func (nn *Notifier) Listen(ctx context.Context, channel string, onNotify func(Notification), action func(context.Context) error) error {
	if _, err := pgstore.SafeName(channel); err != nil {
		return fmt.Errorf("channel: %w", err)
	}

	listener := pq.NewListener(nn.dsn, nn.MinReconnectInterval, nn.MaxReconnectInterval, func(event pq.ListenerEventType, err error) {
		if err != nil {
			log.WithError(ctx, err).Error("notification listener")
		}
	})
	defer listener.Close()

	if err := listener.Listen(channel); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}

	done := make(chan struct{})
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay(ctx, listener.Notify, done, onNotify)
	}()

	err := action(ctx)
	close(done)
	wg.Wait()
	return err
}

// relay passes notifications to onNotify until done is closed, then
// delivers what is already buffered before returning.
func relay(ctx context.Context, notify <-chan *pq.Notification, done <-chan struct{}, onNotify func(Notification)) {
	deliver := func(notification *pq.Notification) {
		if notification == nil {
			// sent after the connection is re-established
			log.Info(ctx, "notification listener reconnected")
			return
		}
		onNotify(Notification{
			Channel: notification.Channel,
			Payload: notification.Extra,
		})
	}

	for {
		select {
		case <-done:
			for {
				select {
				case notification, ok := <-notify:
					if !ok {
						return
					}
					deliver(notification)
				default:
					return
				}
			}
		case notification, ok := <-notify:
			if !ok {
				return
			}
			deliver(notification)
		}
	}
}

// Notify sends a notification on the channel when the transaction commits.
func Notify(ctx context.Context, db Transactor, channel string, payload string) error {
	if _, err := pgstore.SafeName(channel); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	return db.Transact(ctx, &sqrlx.TxOptions{
		Isolation: sql.LevelReadCommitted,
	}, func(ctx context.Context, tx sqrlx.Transaction) error {
		_, err := tx.Exec(ctx, pgstore.Expression{
			pgstore.Raw("select pg_notify("), pgstore.Bind(channel), pgstore.Raw(","), pgstore.Bind(payload), pgstore.Raw(")"),
		})
		return err
	})
}
