package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pnldash/internal/database"
	"pnldash/internal/models"
	"pnldash/internal/queue"
	"pnldash/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ReportStore interface {
	Reports(ctx context.Context, f database.ReportFilter) ([]models.PnLReport, error)
	QueryReports(ctx context.Context, f database.ReportFilter) ([]models.StoredReport, error)
	UserBalances(ctx context.Context) ([]models.UserBalance, error)
	EnsureUserExists(ctx context.Context, u models.User) error
	SaveAPIKey(ctx context.Context, userID, apiKey, secretKey string) (bool, error)
}

type Dispatcher interface {
	CredentialsRegistered(ctx context.Context, userID string) ([]models.JobPayload, error)
	RequestCustom(ctx context.Context, userID string, rng models.RangeSpec) (models.JobPayload, error)
}

type JobStatuses interface {
	Status(ctx context.Context, id string) (models.JobStatus, error)
	Job(ctx context.Context, id string) (models.JobPayload, error)
}

type Handler struct {
	store ReportStore
	jobs  Dispatcher
	state JobStatuses
	log   *logrus.Logger
	now   func() time.Time
}

func NewHandler(store ReportStore, jobs Dispatcher, state JobStatuses, log *logrus.Logger) *Handler {
	return &Handler{store: store, jobs: jobs, state: state, log: log, now: time.Now}
}

func (h *Handler) Register(rg *gin.Engine) {
	rg.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	rg.GET("/MainDashboard/", h.MainDashboard)
	rg.GET("/MainDashboardOfUsers/", h.MainDashboardOfUsers)
	rg.GET("/UserDashboard/:userId/", h.UserDashboard)

	rg.GET("/users/:userId/pnl", h.GetUserPnL)
	rg.POST("/users/:userId/api-key", h.PostAPIKey)
	rg.GET("/jobs/:id", h.GetJob)
}

func errorJSON(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"status": "error", "message": msg})
}

func (h *Handler) MainDashboard(c *gin.Context) {
	rt, err := service.ParseDashboardRange(c.Query("range_type"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	h.dashboard(c, database.ReportFilter{RangeType: rt})
}

func (h *Handler) UserDashboard(c *gin.Context) {
	rt, err := service.ParseDashboardRange(c.Query("range_type"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	h.dashboard(c, database.ReportFilter{RangeType: rt, UserID: c.Param("userId")})
}

func (h *Handler) dashboard(c *gin.Context, f database.ReportFilter) {
	reports, err := h.store.Reports(c.Request.Context(), f)
	if err != nil {
		h.log.Errorf("query reports failed: %v", err)
		errorJSON(c, http.StatusInternalServerError, "query failed")
		return
	}
	if len(reports) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": nil, "message": "no reports found for range_type " + string(f.RangeType)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": service.Aggregate(reports)})
}

func (h *Handler) MainDashboardOfUsers(c *gin.Context) {
	rows, err := h.store.UserBalances(c.Request.Context())
	if err != nil {
		h.log.Errorf("query user balances failed: %v", err)
		errorJSON(c, http.StatusInternalServerError, "query failed")
		return
	}
	if len(rows) == 0 {
		errorJSON(c, http.StatusNotFound, "no 30d reports found")
		return
	}
	total, chart := service.BalanceBreakdown(rows)
	c.JSON(http.StatusOK, gin.H{"status": "success", "total_balance": total, "chart_data": chart})
}

// GetUserPnL returns the stored report for the range. A custom range with no
// stored result for the same bounds is queued and answered with 202 and the job id.
func (h *Handler) GetUserPnL(c *gin.Context) {
	userID := c.Param("userId")
	rangeType := c.DefaultQuery("range_type", string(models.Range7D))
	rng, err := service.ResolveRange(rangeType, c.Query("custom_start"), c.Query("custom_end"), h.now())
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	want := models.JobPayload{UserID: userID, RangeType: rng.Type}
	if rng.Type == models.RangeCustom {
		want.Start = rng.Start.Format(models.DateLayout)
		want.End = rng.End.Format(models.DateLayout)
	}
	row, found, err := h.storedFor(ctx, want)
	if err != nil {
		h.log.Errorf("query report for %s failed: %v", userID, err)
		errorJSON(c, http.StatusInternalServerError, "query failed")
		return
	}
	if found {
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": row})
		return
	}

	if rng.Type == models.RangeCustom {
		job, err := h.jobs.RequestCustom(ctx, userID, rng)
		if err != nil {
			h.log.Errorf("enqueue custom range for %s failed: %v", userID, err)
			errorJSON(c, http.StatusInternalServerError, "enqueue failed")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "processing",
			"job_id":  job.ID,
			"message": "custom range is being calculated; poll /jobs/" + job.ID,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": nil, "message": "no " + string(rng.Type) + " report for user yet"})
}

// storedFor finds the persisted report a job would have produced. Custom rows
// only match when their bounds equal the job's, since a later custom run
// replaces the row.
func (h *Handler) storedFor(ctx context.Context, job models.JobPayload) (models.StoredReport, bool, error) {
	rows, err := h.store.QueryReports(ctx, database.ReportFilter{RangeType: job.RangeType, UserID: job.UserID})
	if err != nil {
		return models.StoredReport{}, false, err
	}
	for _, r := range rows {
		if job.RangeType != models.RangeCustom {
			return r, true, nil
		}
		if r.Report.CustomStart == job.Start && r.Report.CustomEnd == job.End {
			return r, true, nil
		}
	}
	return models.StoredReport{}, false, nil
}

type APIKeyRequest struct {
	APIKey    string `json:"api_key" binding:"required"`
	SecretKey string `json:"secret_key" binding:"required"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handler) PostAPIKey(c *gin.Context) {
	userID := c.Param("userId")
	var req APIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid api-key body: %v", err)
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	u := models.User{ID: userID, Username: req.Username, FirstName: req.FirstName, LastName: req.LastName}
	if u.Username == "" {
		u.Username = userID
	}
	if err := h.store.EnsureUserExists(ctx, u); err != nil {
		h.log.Errorf("ensure user: %v", err)
		errorJSON(c, http.StatusInternalServerError, "internal")
		return
	}
	created, err := h.store.SaveAPIKey(ctx, userID, req.APIKey, req.SecretKey)
	if err != nil {
		h.log.Errorf("save api key failed: %v", err)
		errorJSON(c, http.StatusInternalServerError, "save failed")
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
		return
	}

	jobs, err := h.jobs.CredentialsRegistered(ctx, userID)
	if err != nil {
		// the periodic refresh picks the user up on its next run
		h.log.Warnf("initial jobs for %s: %v", userID, err)
	}
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created", "job_ids": ids})
}

// GetJob reports a job's state and, once it is done, the report it stored.
func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	st, err := h.state.Status(ctx, id)
	if errors.Is(err, queue.ErrUnknownJob) {
		errorJSON(c, http.StatusNotFound, "unknown job")
		return
	}
	if err != nil {
		h.log.Errorf("job status %s: %v", id, err)
		errorJSON(c, http.StatusInternalServerError, "query failed")
		return
	}
	res := gin.H{"status": "success", "job_id": id, "state": st}
	if st != models.JobDone {
		c.JSON(http.StatusOK, res)
		return
	}

	job, err := h.state.Job(ctx, id)
	if err != nil {
		h.log.Warnf("job payload %s: %v", id, err)
		c.JSON(http.StatusOK, res)
		return
	}
	row, found, err := h.storedFor(ctx, job)
	if err != nil {
		h.log.Errorf("query report for job %s failed: %v", id, err)
		errorJSON(c, http.StatusInternalServerError, "query failed")
		return
	}
	if found {
		res["data"] = row
	} else {
		res["message"] = "report was replaced by a newer run"
	}
	c.JSON(http.StatusOK, res)
}
