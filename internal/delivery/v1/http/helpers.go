package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/pkg/e"
)

const maxRequestBody = 1 << 20

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewErrorResponse(code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
	}
}

// AddJobRequest — тело POST /api/v1/jobs.
type AddJobRequest struct {
	Merchant   string `json:"merchant"`
	Type       string `json:"type"`
	Priority   int    `json:"priority"`
	Category   string `json:"category"`
	ProductURL string `json:"productUrl"`
}

// SyncRequest — тело POST /api/v1/sync. Пустой merchant означает всех продавцов.
type SyncRequest struct {
	Merchant string `json:"merchant"`
	Category string `json:"category"`
}

type JobResponse struct {
	ID          string                 `json:"id"`
	Merchant    string                 `json:"merchant"`
	Type        domain.JobType         `json:"type"`
	Priority    int                    `json:"priority"`
	Category    string                 `json:"category,omitempty"`
	ProductURL  string                 `json:"productUrl,omitempty"`
	Status      domain.JobStatus       `json:"status"`
	Result      *domain.ScrapingResult `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
}

func NewJobResponse(job *domain.ScrapingJob) *JobResponse {
	return &JobResponse{
		ID:          job.ID,
		Merchant:    job.Merchant,
		Type:        job.Type,
		Priority:    job.Priority,
		Category:    job.Category,
		ProductURL:  job.ProductURL,
		Status:      job.Status,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

func ToHTTPResponse(err error) (int, string) {
	switch {
	case errors.Is(err, e.ErrStatusBadRequest), errors.Is(err, e.ErrInvalidJob):
		return http.StatusBadRequest, rootMessage(err)
	case errors.Is(err, e.ErrUnknownMerchant), errors.Is(err, e.ErrJobNotFound):
		return http.StatusNotFound, rootMessage(err)
	case errors.Is(err, e.ErrQueueClosed):
		return http.StatusServiceUnavailable, e.ErrQueueClosed.Error()
	default:
		return http.StatusInternalServerError, e.ErrInternalServerError.Error()
	}
}

// rootMessage отрезает цепочку op-префиксов, оставляя сообщение для клиента.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil || !clientError(next) {
			return err.Error()
		}
		if errors.Unwrap(next) == nil {
			if strings.HasPrefix(err.Error(), next.Error()) {
				return err.Error()
			}
			return next.Error()
		}
		err = next
	}
}

func clientError(err error) bool {
	return errors.Is(err, e.ErrInvalidJob) || errors.Is(err, e.ErrUnknownMerchant) ||
		errors.Is(err, e.ErrJobNotFound) || errors.Is(err, e.ErrStatusBadRequest)
}

func WriteError(w http.ResponseWriter, err error) {
	code, msg := ToHTTPResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(code, msg))
}

func WriteSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса. Пустое тело допустимо при allowEmpty.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", e.ErrStatusBadRequest, err)
	}

	return nil
}
