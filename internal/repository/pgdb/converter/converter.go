// Package converter преобразует сущности domain/usecase в модели PostgreSQL и обратно.
package converter

import (
	"database/sql"
	"encoding/json"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/shopspring/decimal"
)

// MerchantConverter преобразует сущности Merchant между domain и моделью PostgreSQL.
type MerchantConverter interface {
	ToEntity(model *MerchantModel) *domain.Merchant
}

// ProductConverter преобразует сущности Product между domain и моделью PostgreSQL.
type ProductConverter interface {
	ToModel(entity *domain.Product) *ProductModel
	ToEntity(model *ProductModel) *domain.Product
}

// ListingConverter преобразует предложения продавцов.
type ListingConverter interface {
	ToModel(entity *domain.ProductListing) *ListingModel
	ToEntity(model *ListingModel) *domain.ProductListing
	ToChange(model *ListingModel, prev *PreviousListingModel) *domain.ListingChange
}

// JobConverter преобразует задачи очереди. Сводка хранится в JSONB.
type JobConverter interface {
	ToModel(entity *domain.ScrapingJob) (*JobModel, error)
	ToEntity(model *JobModel) (*domain.ScrapingJob, error)
}

// OutboxEventConverter преобразует сущности OutboxEvent между usecase и моделью PostgreSQL.
type OutboxEventConverter interface {
	ToModel(entity *usecase.OutboxEvent) *OutboxEventModel
	ToEntity(model *OutboxEventModel) *usecase.OutboxEvent
	ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent
}

type MerchantConverterImpl struct{}

func (MerchantConverterImpl) ToEntity(model *MerchantModel) *domain.Merchant {
	if model == nil {
		return nil
	}
	return &domain.Merchant{
		ID:        model.ID,
		Name:      model.Name,
		BaseURL:   model.BaseURL,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
		IsActive:  model.IsActive,
	}
}

type ProductConverterImpl struct{}

func (ProductConverterImpl) ToModel(entity *domain.Product) *ProductModel {
	if entity == nil {
		return nil
	}
	return &ProductModel{
		ID:           entity.ID,
		SKU:          toNullString(entity.SKU),
		Fingerprint:  entity.Fingerprint,
		Name:         entity.Name,
		Category:     entity.Category,
		Brand:        toNullString(entity.Brand),
		ImageURL:     toNullString(entity.ImageURL),
		ListingCount: entity.ListingCount,
		MinPrice:     toNullDecimal(entity.MinPrice),
		MaxPrice:     toNullDecimal(entity.MaxPrice),
		AvgPrice:     toNullDecimal(entity.AvgPrice),
		InStockCount: entity.InStockCount,
		CreatedAt:    entity.CreatedAt,
		UpdatedAt:    entity.UpdatedAt,
	}
}

func (ProductConverterImpl) ToEntity(model *ProductModel) *domain.Product {
	if model == nil {
		return nil
	}
	return &domain.Product{
		ID:           model.ID,
		SKU:          fromNullString(model.SKU),
		Fingerprint:  model.Fingerprint,
		Name:         model.Name,
		Category:     model.Category,
		Brand:        fromNullString(model.Brand),
		ImageURL:     fromNullString(model.ImageURL),
		ListingCount: model.ListingCount,
		MinPrice:     fromNullDecimal(model.MinPrice),
		MaxPrice:     fromNullDecimal(model.MaxPrice),
		AvgPrice:     fromNullDecimal(model.AvgPrice),
		InStockCount: model.InStockCount,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

type ListingConverterImpl struct{}

func (ListingConverterImpl) ToModel(entity *domain.ProductListing) *ListingModel {
	if entity == nil {
		return nil
	}
	return &ListingModel{
		ID:           entity.ID,
		ProductID:    entity.ProductID,
		MerchantID:   entity.MerchantID,
		MerchantSKU:  entity.MerchantSKU,
		Price:        entity.Price,
		Currency:     entity.Currency,
		StockLevel:   entity.StockLevel,
		StockStatus:  string(entity.StockStatus),
		IsAvailable:  entity.IsAvailable,
		URL:          entity.URL,
		LastSyncedAt: entity.LastSyncedAt,
		IsActive:     entity.IsActive,
		CreatedAt:    entity.CreatedAt,
		UpdatedAt:    entity.UpdatedAt,
	}
}

func (ListingConverterImpl) ToEntity(model *ListingModel) *domain.ProductListing {
	if model == nil {
		return nil
	}
	return &domain.ProductListing{
		ID:           model.ID,
		ProductID:    model.ProductID,
		MerchantID:   model.MerchantID,
		MerchantSKU:  model.MerchantSKU,
		Price:        model.Price,
		Currency:     model.Currency,
		StockLevel:   model.StockLevel,
		StockStatus:  domain.StockStatus(model.StockStatus),
		IsAvailable:  model.IsAvailable,
		URL:          model.URL,
		LastSyncedAt: model.LastSyncedAt,
		IsActive:     model.IsActive,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

func (c ListingConverterImpl) ToChange(model *ListingModel, prev *PreviousListingModel) *domain.ListingChange {
	change := &domain.ListingChange{Listing: c.ToEntity(model)}
	if prev == nil {
		return change
	}
	change.PreviousPrice = fromNullDecimal(prev.Price)
	if prev.StockStatus.Valid {
		status := domain.StockStatus(prev.StockStatus.String)
		change.PreviousStock = &status
	}
	return change
}

type JobConverterImpl struct{}

func (JobConverterImpl) ToModel(entity *domain.ScrapingJob) (*JobModel, error) {
	if entity == nil {
		return nil, nil
	}

	model := &JobModel{
		ID:          entity.ID,
		Merchant:    entity.Merchant,
		JobType:     string(entity.Type),
		Priority:    entity.Priority,
		Category:    toNullString(nonEmpty(entity.Category)),
		ProductURL:  toNullString(nonEmpty(entity.ProductURL)),
		Status:      string(entity.Status),
		Error:       toNullString(nonEmpty(entity.Error)),
		CreatedAt:   entity.CreatedAt,
		StartedAt:   entity.StartedAt,
		CompletedAt: entity.CompletedAt,
	}

	if entity.Result != nil {
		raw, err := json.Marshal(entity.Result)
		if err != nil {
			return nil, err
		}
		model.Result = raw
	}

	return model, nil
}

func (JobConverterImpl) ToEntity(model *JobModel) (*domain.ScrapingJob, error) {
	if model == nil {
		return nil, nil
	}

	job := &domain.ScrapingJob{
		ID:          model.ID,
		Merchant:    model.Merchant,
		Type:        domain.JobType(model.JobType),
		Priority:    model.Priority,
		Category:    model.Category.String,
		ProductURL:  model.ProductURL.String,
		Status:      domain.JobStatus(model.Status),
		Error:       model.Error.String,
		CreatedAt:   model.CreatedAt,
		StartedAt:   model.StartedAt,
		CompletedAt: model.CompletedAt,
	}

	if len(model.Result) > 0 {
		var result domain.ScrapingResult
		if err := json.Unmarshal(model.Result, &result); err != nil {
			return nil, err
		}
		job.Result = &result
	}

	return job, nil
}

type OutboxEventConverterImpl struct{}

func (OutboxEventConverterImpl) ToModel(entity *usecase.OutboxEvent) *OutboxEventModel {
	if entity == nil {
		return nil
	}
	return &OutboxEventModel{
		ID:          entity.ID,
		EventID:     entity.EventID,
		EventType:   string(entity.EventType),
		ProductID:   entity.ProductID,
		Payload:     entity.Payload,
		Status:      string(entity.Status),
		CreatedAt:   entity.CreatedAt,
		ProcessedAt: entity.ProcessedAt,
	}
}

func (OutboxEventConverterImpl) ToEntity(model *OutboxEventModel) *usecase.OutboxEvent {
	if model == nil {
		return nil
	}
	return &usecase.OutboxEvent{
		ID:          model.ID,
		EventID:     model.EventID,
		EventType:   usecase.OutboxEventType(model.EventType),
		ProductID:   model.ProductID,
		Payload:     model.Payload,
		Status:      usecase.OutboxStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		ProcessedAt: model.ProcessedAt,
	}
}

func (c OutboxEventConverterImpl) ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent {
	if models == nil {
		return nil
	}
	result := make([]*usecase.OutboxEvent, 0, len(models))
	for _, m := range models {
		result = append(result, c.ToEntity(m))
	}
	return result
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
