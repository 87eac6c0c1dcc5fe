package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/framereel/internal/assembler"
	"github.com/therealutkarshpriyadarshi/framereel/internal/cache"
	"github.com/therealutkarshpriyadarshi/framereel/internal/config"
	"github.com/therealutkarshpriyadarshi/framereel/internal/ingest"
	"github.com/therealutkarshpriyadarshi/framereel/internal/logging"
	"github.com/therealutkarshpriyadarshi/framereel/internal/progress"
	"github.com/therealutkarshpriyadarshi/framereel/internal/workspace"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// filesField is the multipart field carrying frames
const filesField = "files[]"

// statusClientClosedRequest is reported when the client went away mid-job
const statusClientClosedRequest = 499

// multipartOverhead is allowed on top of the upload ceiling for form boundaries and fields
const multipartOverhead = 1 << 20

type versioner interface {
	Version(ctx context.Context) (string, error)
}

// API holds the handler dependencies
type API struct {
	service       *assembler.Service
	ffmpeg        versioner
	progressStore *cache.Cache
	cfg           *config.Config
	logger        *logging.Logger
}

type createJobRequest struct {
	Format       string `json:"format"`
	TotalFrames  int    `json:"total_frames" binding:"required,min=1"`
	NumericOrder *bool  `json:"numeric_order"`
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	version, err := api.ffmpeg.Version(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	if api.progressStore != nil {
		if err := api.progressStore.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"ffmpeg":      version,
		"active_jobs": api.service.Active(),
	})
}

// Create job endpoint
func (api *API) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	job, err := api.service.Create(c.Request.Context(), assembler.CreateRequest{
		Format:       req.Format,
		TotalFrames:  req.TotalFrames,
		NumericOrder: req.NumericOrder,
	})
	if err != nil {
		api.respondError(c, err)
		return
	}

	api.mirrorJob(c.Request.Context(), job)
	c.JSON(http.StatusCreated, job)
}

// Submit frames endpoint. The chunk that completes the job is answered with the video.
func (api *API) submitFrames(c *gin.Context) {
	jobID := c.Param("id")

	files, ok := api.readFiles(c)
	if !ok {
		return
	}

	chunkStart, err := formInt(c, "chunk_start")
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := api.service.Submit(c.Request.Context(), jobID, assembler.Chunk{Start: chunkStart, Files: files}, api.deliver(c))
	if err != nil {
		api.respondError(c, err)
		return
	}

	api.mirrorJob(c.Request.Context(), &res.Job)
	if res.Status == assembler.StatusAwaitingChunks {
		c.JSON(http.StatusAccepted, chunkResponse(res.Job))
	}
}

// Convert endpoint. Frames arrive in one request, or in chunks when total_files
// exceeds the files sent; later chunks carry the job_id returned by the first.
func (api *API) convert(c *gin.Context) {
	files, ok := api.readFiles(c)
	if !ok {
		return
	}

	totalFiles, err := formInt(c, "total_files")
	if err != nil {
		badRequest(c, err)
		return
	}
	chunkStart, err := formInt(c, "chunk_start")
	if err != nil {
		badRequest(c, err)
		return
	}
	numericOrder, err := formBool(c, "numeric_order")
	if err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	jobID := c.PostForm("job_id")

	if jobID == "" && chunkStart+len(files) >= totalFiles {
		res, err := api.service.Convert(ctx, assembler.ConvertRequest{
			Format:       c.DefaultPostForm("format", string(models.FormatMP4)),
			NumericOrder: numericOrder,
			Files:        files,
		}, api.deliver(c))
		if err != nil {
			api.respondError(c, err)
			return
		}
		api.mirrorJob(ctx, &res.Job)
		return
	}

	if jobID == "" {
		job, err := api.service.Create(ctx, assembler.CreateRequest{
			Format:       c.DefaultPostForm("format", string(models.FormatMP4)),
			TotalFrames:  totalFiles,
			NumericOrder: numericOrder,
		})
		if err != nil {
			api.respondError(c, err)
			return
		}
		jobID = job.ID
	}

	res, err := api.service.Submit(ctx, jobID, assembler.Chunk{Start: chunkStart, Files: files}, api.deliver(c))
	if err != nil {
		api.respondError(c, err)
		return
	}

	api.mirrorJob(ctx, &res.Job)
	if res.Status == assembler.StatusAwaitingChunks {
		c.JSON(http.StatusOK, chunkResponse(res.Job))
	}
}

// Get job endpoint
func (api *API) getJob(c *gin.Context) {
	jobID := c.Param("id")

	if job, ok := api.service.Job(jobID); ok {
		c.JSON(http.StatusOK, job)
		return
	}

	if api.progressStore != nil {
		job, err := api.progressStore.GetJob(c.Request.Context(), jobID)
		if err != nil {
			api.logger.WithJobID(jobID).ErrorWithErr("Failed to read job from cache", err)
		} else if job != nil {
			c.JSON(http.StatusOK, job)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Job not found", "kind": ""})
}

// Get progress endpoint
func (api *API) getProgress(c *gin.Context) {
	jobID := c.Param("id")

	snap, ok := api.service.Progress(jobID)
	if !ok && api.progressStore != nil {
		cached, err := api.progressStore.GetJobProgress(c.Request.Context(), jobID)
		if err != nil {
			api.logger.WithJobID(jobID).ErrorWithErr("Failed to read progress from cache", err)
		} else if cached != nil {
			snap, ok = *cached, true
		}
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found", "kind": ""})
		return
	}

	status := progressStatus(snap)
	if job, live := api.service.Job(jobID); live {
		status = job.Status
	}

	c.JSON(http.StatusOK, gin.H{
		"progress": snap.Percent,
		"message":  snap.Message,
		"status":   status,
	})
}

// readFiles parses the multipart body under the upload ceiling
func (api *API) readFiles(c *gin.Context) ([]ingest.Blob, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.cfg.Assembler.MaxUploadBytes+multipartOverhead)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("request exceeds %d bytes", tooLarge.Limit),
				"kind":  assembler.KindInputRejected,
			})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided", "kind": assembler.KindInputRejected})
		return nil, false
	}

	return ingest.FromFileHeaders(form.File[filesField]), true
}

// deliver streams the finished video to the client as an attachment
func (api *API) deliver(c *gin.Context) assembler.DeliverFunc {
	return func(out *models.Output) error {
		f, err := os.Open(out.Path)
		if err != nil {
			return err
		}
		defer f.Close()

		c.Header("Content-Type", out.ContentType)
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, out.DownloadName))
		c.Header("Content-Length", strconv.FormatInt(out.Size, 10))
		c.Header("X-Job-ID", out.JobID)
		c.Status(http.StatusOK)

		_, err = io.Copy(c.Writer, f)
		return err
	}
}

func (api *API) respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	if c.Writer.Written() {
		// Delivery already started; the client sees a truncated body
		return
	}

	status, kind := statusFor(err)
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func (api *API) mirrorJob(ctx context.Context, job *models.Job) {
	if api.progressStore == nil {
		return
	}
	if err := api.progressStore.SetJob(ctx, job, api.cfg.Redis.ProgressTTL); err != nil {
		api.logger.WithJobID(job.ID).ErrorWithErr("Failed to mirror job", err)
	}
}

// statusFor maps a job error to an HTTP status and its kind
func statusFor(err error) (int, assembler.Kind) {
	if errors.Is(err, assembler.ErrJobNotFound) {
		return http.StatusNotFound, ""
	}

	kind := assembler.KindOf(err)
	switch kind {
	case assembler.KindInputRejected:
		if errors.Is(err, workspace.ErrPayloadTooLarge) || errors.Is(err, workspace.ErrTooManyFrames) {
			return http.StatusRequestEntityTooLarge, kind
		}
		return http.StatusBadRequest, kind
	case assembler.KindFrameDecodeFailed:
		return http.StatusUnprocessableEntity, kind
	case assembler.KindTimeout:
		return http.StatusGatewayTimeout, kind
	case assembler.KindCanceled:
		return statusClientClosedRequest, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": assembler.KindInputRejected})
}

func chunkResponse(job models.Job) gin.H {
	return gin.H{
		"status":       assembler.StatusAwaitingChunks,
		"job_id":       job.ID,
		"received":     job.Received,
		"total_frames": job.TotalFrames,
		"progress":     job.Progress,
	}
}

func progressStatus(snap progress.Snapshot) string {
	switch {
	case snap.Failed:
		return models.JobStatusFailed
	case snap.Terminal:
		return models.JobStatusCompleted
	default:
		return models.JobStatusEncoding
	}
}

func formInt(c *gin.Context, key string) (int, error) {
	raw := c.PostForm(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func formBool(c *gin.Context, key string) (*bool, error) {
	raw := c.PostForm(key)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a boolean", key)
	}
	return &b, nil
}
