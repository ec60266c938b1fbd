package usecase

import (
	"encoding/json"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JOB QUEUE

// QueueStats — состояние очереди для операционной панели.
type QueueStats struct {
	Queued    int      `json:"queued"`
	Running   int      `json:"running"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Merchants []string `json:"merchants"`
}

// REPOSITORIES

// DeactivateStaleRes — итог пометки устаревших предложений.
type DeactivateStaleRes struct {
	Deactivated int
	ProductIDs  []int64
}

// INFRASTRUCTURE

// SavePageReq — сырая страница для архива.
type SavePageReq struct {
	Merchant    string
	URL         string
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

type WriteRawMessageReq struct {
	ProductID int64
	Payload   []byte
}

// OUTBOX

type OutboxStatus string

const (
	Pending    OutboxStatus = "PENDING"
	Processing OutboxStatus = "PROCESSING"
	Processed  OutboxStatus = "PROCESSED"
)

type OutboxEventType string

const (
	ListingChanged OutboxEventType = "LISTING_CHANGED"
)

// OutboxEvent — событие, записанное в одной транзакции с изменением и отправляемое в Kafka воркером.
type OutboxEvent struct {
	ID          int64
	EventID     string
	EventType   OutboxEventType
	ProductID   int64
	Payload     []byte
	Status      OutboxStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ListingChangedPayload — тело события об изменении цены или наличия.
type ListingChangedPayload struct {
	EventID       string              `json:"eventId"`
	ProductID     int64               `json:"productId"`
	ListingID     int64               `json:"listingId"`
	Merchant      string              `json:"merchant"`
	MerchantSKU   string              `json:"merchantSku"`
	Price         decimal.Decimal     `json:"price"`
	PreviousPrice *decimal.Decimal    `json:"previousPrice,omitempty"`
	Currency      string              `json:"currency"`
	StockStatus   domain.StockStatus  `json:"stockStatus"`
	PreviousStock *domain.StockStatus `json:"previousStockStatus,omitempty"`
	URL           string              `json:"url"`
	SyncedAt      time.Time           `json:"syncedAt"`
}

// MAPPERS

func NewWriteRawMessageReq(productID int64, payload []byte) *WriteRawMessageReq {
	return &WriteRawMessageReq{
		ProductID: productID,
		Payload:   payload,
	}
}

func NewSavePageReq(merchant, url, contentType string, body []byte, fetchedAt time.Time) *SavePageReq {
	return &SavePageReq{
		Merchant:    merchant,
		URL:         url,
		ContentType: contentType,
		Body:        body,
		FetchedAt:   fetchedAt,
	}
}

func NewListingChangedEvent(merchant string, change *domain.ListingChange, now time.Time) (*OutboxEvent, error) {
	l := change.Listing
	payload := ListingChangedPayload{
		EventID:       uuid.NewString(),
		ProductID:     l.ProductID,
		ListingID:     l.ID,
		Merchant:      merchant,
		MerchantSKU:   l.MerchantSKU,
		Price:         l.Price,
		PreviousPrice: change.PreviousPrice,
		Currency:      l.Currency,
		StockStatus:   l.StockStatus,
		PreviousStock: change.PreviousStock,
		URL:           l.URL,
		SyncedAt:      l.LastSyncedAt,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		EventID:   payload.EventID,
		EventType: ListingChanged,
		ProductID: l.ProductID,
		Payload:   body,
		Status:    Pending,
		CreatedAt: now,
	}, nil
}
