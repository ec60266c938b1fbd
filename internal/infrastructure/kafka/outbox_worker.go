package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	outboxChannel      = "outbox_pending"
	defaultBatchSize   = 10
	defaultPollPeriod  = 30 * time.Second
	notificationWindow = 30 * time.Second
	// stuckAfter — сколько событие может оставаться в PROCESSING, прежде чем его вернут в очередь.
	stuckAfter = 5 * time.Minute

	defaultReconnectDelay = 2 * time.Second
	defaultRetryDelay     = 5 * time.Second
)

// OutboxWorker пересылает события из outbox_events в Kafka.
// Просыпается по NOTIFY из транзакции сверки и по таймеру на случай пропущенных уведомлений.
type OutboxWorker struct {
	repo       usecase.OutboxRepository
	logger     logger.Logger
	producer   usecase.MessageProducer
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	dbConnStr  string
	batchSize  int
	pollPeriod time.Duration

	dial           func(ctx context.Context) (notificationConn, error)
	reconnectDelay time.Duration
	retryDelay     time.Duration
}

func NewOutboxWorker(
	repo usecase.OutboxRepository,
	logger logger.Logger,
	producer usecase.MessageProducer,
	dbConnStr string,
) *OutboxWorker {
	w := &OutboxWorker{
		repo:           repo,
		logger:         logger,
		producer:       producer,
		stop:           make(chan struct{}),
		dbConnStr:      dbConnStr,
		batchSize:      defaultBatchSize,
		pollPeriod:     defaultPollPeriod,
		reconnectDelay: defaultReconnectDelay,
		retryDelay:     defaultRetryDelay,
	}
	w.dial = w.dialListener
	return w
}

// WithPollPeriod задаёт период опроса без уведомлений.
func (w *OutboxWorker) WithPollPeriod(d time.Duration) *OutboxWorker {
	if d > 0 {
		w.pollPeriod = d
	}
	return w
}

func (w *OutboxWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()

	if w.dbConnStr == "" {
		return
	}

	// Запускаем слушатель уведомлений
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.listenOutboxNotifications(ctx)
	}()
}

func (w *OutboxWorker) Stop(_ context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	return nil
}

func (w *OutboxWorker) run(ctx context.Context) {
	// Обрабатываем "остатки" при старте
	w.logger.Infof("Draining pending outbox events on startup...")
	w.drain(ctx)

	ticker := time.NewTicker(w.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Outbox worker stopped by context cancellation")
			return
		case <-w.stop:
			w.logger.Infof("Outbox worker stopped")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain обрабатывает пачки, пока они не кончатся или не случится ошибка.
func (w *OutboxWorker) drain(ctx context.Context) {
	if n, err := w.repo.ReclaimStuck(ctx, time.Now().Add(-stuckAfter)); err != nil {
		w.logger.Warnf("Reclaiming stuck outbox events failed: %v", err)
	} else if n > 0 {
		w.logger.Warnf("Returned %d stuck outbox events to pending", n)
	}

	for {
		hasMore, err := w.processBatch(ctx)
		if err != nil {
			w.logger.Warnf("Batch processing failed: %v", err)
			return
		}
		if !hasMore {
			return
		}
	}
}

// notificationConn — соединение, на котором выполнен LISTEN.
type notificationConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// dialListener открывает отдельное соединение и подписывается на канал outbox.
func (w *OutboxWorker) dialListener(ctx context.Context) (notificationConn, error) {
	conn, err := pgx.Connect(ctx, w.dbConnStr)
	if err != nil {
		return nil, e.Wrap("failed to connect for LISTEN", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+outboxChannel); err != nil {
		conn.Close(ctx)
		return nil, e.Wrap("failed to LISTEN", err)
	}

	w.logger.Infof("Subscribed to '%s' channel", outboxChannel)
	return conn, nil
}

// listenOutboxNotifications ждёт NOTIFY и запускает drain. После обрыва соединение
// переоткрывается до успеха; пока его нет, события подбирает опрос по таймеру.
func (w *OutboxWorker) listenOutboxNotifications(ctx context.Context) {
	// Stop должен прерывать ожидание уведомления, а не ждать окна notificationWindow
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := w.dial(ctx)
	if err != nil {
		w.logger.Warnf("Initial connect failed: %v, falling back to polling", err)
		return
	}
	defer func() {
		if conn != nil {
			conn.Close(context.Background())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		if conn == nil {
			next, err := w.dial(ctx)
			if err != nil {
				w.logger.Warnf("Reconnect failed: %v", err)
				if !w.sleep(ctx, w.retryDelay) {
					return
				}
				continue
			}
			conn = next
		}

		waitCtx, cancel := context.WithTimeout(ctx, notificationWindow)
		notif, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Warnf("Connection lost: %v. Reconnecting...", err)
			conn.Close(ctx)
			conn = nil

			if !w.sleep(ctx, w.reconnectDelay) {
				return
			}
			continue
		}

		if notif != nil && notif.Channel == outboxChannel {
			w.logger.Debugf("Received outbox notification, draining outbox events")
			w.drain(ctx)
		}
	}
}

func (w *OutboxWorker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	}
}

// processBatch возвращает true, если пачка была непустой и стоит запросить следующую.
// Неотправленные события возвращаются в PENDING, и пачка считается последней.
func (w *OutboxWorker) processBatch(ctx context.Context) (bool, error) {
	events, err := w.repo.GetAndMarkAsProcessing(ctx, w.batchSize)
	if err != nil {
		return false, err
	}

	if len(events) == 0 {
		return false, nil
	}

	failed := 0
	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			failed++
			w.logger.Warnf("Outbox event %s not delivered: %v", event.EventID, err)
			if err := w.repo.ReturnToPending(ctx, event.ID); err != nil {
				w.logger.Warnf("return to pending failed: %v", err)
			}
			continue
		}
		if err := w.repo.MarkAsProcessed(ctx, event.ID); err != nil {
			w.logger.Warnf("mark processed failed: %v", err)
		}
	}

	return failed == 0, nil
}

func (w *OutboxWorker) processEvent(ctx context.Context, event *usecase.OutboxEvent) error {
	if err := w.SendBytes(ctx, event.ProductID, event.Payload); err != nil {
		if isRetryableError(err) {
			return e.Wrap("Temporary Kafka failure, will retry", err)
		}
		return e.Wrap("Permanent Kafka failure", err)
	}
	return nil
}

func (w *OutboxWorker) SendBytes(ctx context.Context, productID int64, payload []byte) error {
	return w.producer.WriteRawMessage(ctx, usecase.NewWriteRawMessageReq(productID, payload))
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"i/o timeout",
		"network is unreachable",
		"broker not available",
		"connection reset",
		"broken pipe",
		"no such host",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(errStr, phrase) {
			return true
		}
	}
	return false
}
