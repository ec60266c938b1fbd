package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
)

// ReconcileUseCase сводит извлечённые записи с каноническим каталогом товаров.
// Каждая запись сверяется в своей транзакции, поэтому ошибка одной не откатывает остальные.
type ReconcileUseCase struct {
	merchantRepo MerchantRepository
	productRepo  ProductRepository
	listingRepo  ListingRepository
	outboxRepo   OutboxRepository
	txManager    TxManager
	logger       logger.Logger
	now          func() time.Time

	mu          sync.Mutex
	merchantIDs map[string]int64
}

func NewReconcileUC(
	merchantRepo MerchantRepository,
	productRepo ProductRepository,
	listingRepo ListingRepository,
	outboxRepo OutboxRepository,
	txManager TxManager,
	logger logger.Logger,
) *ReconcileUseCase {
	return &ReconcileUseCase{
		merchantRepo: merchantRepo,
		productRepo:  productRepo,
		listingRepo:  listingRepo,
		outboxRepo:   outboxRepo,
		txManager:    txManager,
		logger:       logger,
		now:          time.Now,
		merchantIDs:  make(map[string]int64),
	}
}

// WithClock подменяет источник времени last_synced_at.
func (r *ReconcileUseCase) WithClock(now func() time.Time) *ReconcileUseCase {
	r.now = now
	return r
}

// EnsureMerchant регистрирует продавца с базовым адресом и кэширует его ID.
func (r *ReconcileUseCase) EnsureMerchant(ctx context.Context, name, baseURL string) (int64, error) {
	const op = "ReconcileUseCase.EnsureMerchant"

	merchant, err := r.merchantRepo.Upsert(ctx, domain.NewMerchant(name, baseURL))
	if err != nil {
		return 0, e.Wrap(op, err)
	}

	r.mu.Lock()
	r.merchantIDs[name] = merchant.ID
	r.mu.Unlock()

	return merchant.ID, nil
}

func (r *ReconcileUseCase) merchantID(ctx context.Context, name string) (int64, error) {
	r.mu.Lock()
	id, ok := r.merchantIDs[name]
	r.mu.Unlock()
	if ok {
		return id, nil
	}
	return r.EnsureMerchant(ctx, name, "")
}

// Reconcile сохраняет записи продавца: товар, предложение, агрегаты и событие об изменении.
func (r *ReconcileUseCase) Reconcile(ctx context.Context, merchant string, records []domain.ExtractedListing) (*domain.ReconcileReport, error) {
	const op = "ReconcileUseCase.Reconcile"

	report := &domain.ReconcileReport{Errors: []string{}}
	if len(records) == 0 {
		return report, nil
	}

	merchantID, err := r.merchantID(ctx, merchant)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	for i := range records {
		rec := &records[i]
		emitted, err := r.reconcileOne(ctx, merchant, merchantID, rec)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("reconcile %s: %v", rec.MerchantSKU, err))
			r.logger.Warnf("Reconciliation failed: merchant: %s, merchant_sku: %s, error: %v", merchant, rec.MerchantSKU, e.Wrap(op, err))
			continue
		}

		report.Upserted++
		if emitted {
			report.Events++
		}
	}

	r.logger.Infof("Reconciled %d/%d records for %s (%d change events)", report.Upserted, len(records), merchant, report.Events)
	return report, nil
}

func (r *ReconcileUseCase) reconcileOne(ctx context.Context, merchant string, merchantID int64, rec *domain.ExtractedListing) (bool, error) {
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return false, err
	}

	emitted := false
	err := r.txManager.WithinTx(ctx, func(ctx context.Context) error {
		product, err := r.resolveProduct(ctx, rec)
		if err != nil {
			return err
		}

		now := r.now()
		change, err := r.listingRepo.Upsert(ctx, domain.NewProductListing(product.ID, merchantID, rec, now))
		if err != nil {
			return err
		}

		if err := r.productRepo.RefreshAggregates(ctx, []int64{product.ID}); err != nil {
			return err
		}

		if !change.Changed() {
			return nil
		}

		event, err := NewListingChangedEvent(merchant, change, now)
		if err != nil {
			return err
		}
		if _, err := r.outboxRepo.Create(ctx, event); err != nil {
			return err
		}
		emitted = true

		return nil
	})

	return emitted, err
}

// resolveProduct ищет товар по SKU продавца, а если его нет — по отпечатку имени.
func (r *ReconcileUseCase) resolveProduct(ctx context.Context, rec *domain.ExtractedListing) (*domain.Product, error) {
	product := domain.NewProductFromListing(rec)
	if product.SKU != nil {
		return r.productRepo.UpsertBySKU(ctx, product)
	}
	return r.productRepo.UpsertByFingerprint(ctx, product)
}

// SweepStale помечает неактивными предложения, не обновлённые с начала полной синхронизации.
func (r *ReconcileUseCase) SweepStale(ctx context.Context, merchant string, syncedBefore time.Time) (int, error) {
	const op = "ReconcileUseCase.SweepStale"

	merchantID, err := r.merchantID(ctx, merchant)
	if err != nil {
		return 0, e.Wrap(op, err)
	}

	var deactivated int
	err = r.txManager.WithinTx(ctx, func(ctx context.Context) error {
		res, err := r.listingRepo.DeactivateStale(ctx, merchantID, syncedBefore)
		if err != nil {
			return err
		}
		deactivated = res.Deactivated
		if len(res.ProductIDs) == 0 {
			return nil
		}
		return r.productRepo.RefreshAggregates(ctx, res.ProductIDs)
	})
	if err != nil {
		return 0, e.Wrap(op, err)
	}

	if deactivated > 0 {
		r.logger.Infof("Deactivated %d stale listings for %s", deactivated, merchant)
	}
	return deactivated, nil
}
