package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/unique-jobs/internal/api/dto"
	"github.com/cuongbtq/unique-jobs/internal/domain"
	"github.com/cuongbtq/unique-jobs/internal/unique"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateJob handles POST /api/v1/jobs
// Creates a new background job, rejecting duplicates of unique jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	job := unique.NewJob(req.UserID, req.JobType, string(req.Payload))

	if req.Unique != nil {
		if err := h.jobs.MarkUnique(job, req.Unique); err != nil {
			h.logger.Error("Failed to mark job unique", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create job"})
			return
		}
	}

	if err := h.jobs.Persist(c.Request.Context(), job); err != nil {
		var dupErr *unique.DuplicateIdentityError
		if errors.As(err, &dupErr) {
			h.logger.Info("Duplicate unique job rejected",
				slog.String("identity", dupErr.Identity),
				slog.String("user_id", req.UserID),
			)
			c.JSON(http.StatusConflict, dto.ErrorResponse{
				Error:    "A job with the same unique payload already exists",
				Identity: dupErr.Identity,
			})
			return
		}

		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create job"})
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
		slog.Bool("unique", job.IsUnique()),
	)

	c.JSON(http.StatusCreated, toJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves a job together with its unique payload
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.Fetch(c.Request.Context(), jobID)
	if err != nil {
		h.respondFetchError(c, jobID, err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Deletes the job and releases its unique identity
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.Fetch(c.Request.Context(), jobID)
	if err != nil {
		h.respondFetchError(c, jobID, err)
		return
	}

	if err := h.jobs.Remove(c.Request.Context(), job); err != nil {
		h.logger.Error("Failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to delete job"})
		return
	}

	h.logger.Info("Job deleted", slog.String("job_id", jobID))
	c.Status(http.StatusNoContent)
}

// ClearReservation handles DELETE /api/v1/unique/reservations
// Drops a reservation left behind by a failed persist
func (h *JobHandler) ClearReservation(c *gin.Context) {
	var req dto.ClearReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "identity is required"})
		return
	}

	if err := h.jobs.ClearReservation(c.Request.Context(), req.Identity); err != nil {
		h.logger.Error("Failed to clear reservation", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to clear reservation"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return "", false
	}
	return jobID, true
}

func (h *JobHandler) respondFetchError(c *gin.Context, jobID string, err error) {
	if errors.Is(err, domain.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Job not found"})
		return
	}

	h.logger.Error("Failed to get job",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to get job"})
}

func toJobDTO(job *unique.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:      job.JobID,
		UserID:     job.UserID,
		JobType:    job.JobType,
		Payload:    job.Payload,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  job.UpdatedAt.Format(time.RFC3339),
	}
	if payload, ok := job.UniquePayload(); ok {
		out.Unique = payload
	}
	return out
}
