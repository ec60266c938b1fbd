package http

import (
	"net/http"

	"github.com/DRSN-tech/price-sync/internal/domain"
	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// JobHandler — операционные ручки очереди синхронизации.
type JobHandler struct {
	queue  usecase.JobQueueUC
	logger logger.Logger
}

func NewJobHandler(queue usecase.JobQueueUC, logger logger.Logger) *JobHandler {
	return &JobHandler{queue: queue, logger: logger}
}

// triggerSync ставит full_sync (или category_sync при заданной категории).
func (h *JobHandler) triggerSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		h.logger.Warnf("%d bad sync request: %v", http.StatusBadRequest, err)
		WriteError(w, err)
		return
	}

	id, err := h.queue.TriggerSync(r.Context(), req.Merchant, req.Category)
	if err != nil {
		h.logger.Warnf("Trigger sync failed: %v", err)
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusAccepted, map[string]any{"jobId": id})
}

func (h *JobHandler) addJob(w http.ResponseWriter, r *http.Request) {
	var req AddJobRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.logger.Warnf("%d bad job request: %v", http.StatusBadRequest, err)
		WriteError(w, err)
		return
	}

	id, err := h.queue.AddJob(r.Context(), req.Merchant, domain.JobType(req.Type), req.Priority, domain.JobParams{
		Category:   req.Category,
		ProductURL: req.ProductURL,
	})
	if err != nil {
		h.logger.Warnf("Add job failed: %v", err)
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusAccepted, map[string]any{"jobId": id})
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, NewJobResponse(job))
}

func (h *JobHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetStats(r.Context())
	if err != nil {
		h.logger.Errorf(err, "Queue stats failed")
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, stats)
}

func (h *JobHandler) merchantsHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, http.StatusOK, h.queue.MerchantsHealth(r.Context()))
}
