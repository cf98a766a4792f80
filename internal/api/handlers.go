package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ergo-live/internal/domain"
	"ergo-live/internal/mempool"
	"ergo-live/internal/netflow"
	"ergo-live/internal/presentation"
	"ergo-live/internal/storage"
)

// ErrorResp is the body of every non-2xx JSON response.
type ErrorResp struct {
	Error string `json:"error"`
}

// QueueStatus describes the presentation queue.
type QueueStatus struct {
	Paused    bool  `json:"paused"`
	Pending   int   `json:"pending"`
	DelayMs   int64 `json:"delayMs"`
	Displayed int   `json:"displayed"`
}

// StateResp is the body of GET /api/state.
type StateResp struct {
	mempool.State
	Queue QueueStatus `json:"queue"`
}

// TransfersResp is the body of GET /api/transfers/:txId.
type TransfersResp struct {
	TransactionID string              `json:"transactionId"`
	Transfers     []*netflow.Transfer `json:"transfers"`
	Anomalies     []netflow.Anomaly   `json:"anomalies,omitempty"`
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResp{Error: msg})
}

func (s *Server) queueStatus() QueueStatus {
	q := s.deps.Queue
	return QueueStatus{
		Paused:    q.Paused(),
		Pending:   q.Len(),
		DelayMs:   q.Delay().Milliseconds(),
		Displayed: len(q.Displayed()),
	}
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, StateResp{
		State: s.deps.Mempool.State(),
		Queue: s.queueStatus(),
	})
}

func (s *Server) getMempool(c *gin.Context) {
	snapshot := s.deps.Mempool.State().Snapshot
	if snapshot == nil {
		snapshot = []*domain.Transaction{}
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) getTransaction(c *gin.Context) {
	tx, ok := s.deps.Mempool.Transaction(c.Param("txId"))
	if !ok {
		abort(c, http.StatusNotFound, "transaction not in mempool")
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) getTransfers(c *gin.Context) {
	tx, ok := s.deps.Mempool.Transaction(c.Param("txId"))
	if !ok {
		abort(c, http.StatusNotFound, "transaction not in mempool")
		return
	}
	transfers := netflow.ComputeTransfers(tx, s.deps.Tokens)
	c.JSON(http.StatusOK, TransfersResp{
		TransactionID: tx.ID,
		Transfers:     transfers.Sorted(),
		Anomalies:     transfers.Anomalies(),
	})
}

func (s *Server) getDisplayed(c *gin.Context) {
	displayed := s.deps.Queue.Displayed()
	if displayed == nil {
		displayed = []presentation.Delivery{}
	}
	c.JSON(http.StatusOK, displayed)
}

func (s *Server) getToken(c *gin.Context) {
	token, ok := s.deps.Tokens.Get(c.Param("tokenId"))
	if !ok {
		abort(c, http.StatusNotFound, "token not cached")
		return
	}
	c.JSON(http.StatusOK, token)
}

// getDailyLabels serves ?start=YYYY-MM-DD&end=YYYY-MM-DD or ?days=N (default 7).
func (s *Server) getDailyLabels(c *gin.Context) {
	if s.deps.Labels == nil {
		abort(c, http.StatusServiceUnavailable, "label metrics disabled")
		return
	}

	var (
		days []*domain.DailyLabelMetrics
		err  error
	)
	start, end := c.Query("start"), c.Query("end")
	switch {
	case start != "" || end != "":
		if end == "" {
			end = time.Now().UTC().Format("2006-01-02")
		}
		days, err = s.deps.Labels.Range(c.Request.Context(), start, end)
	default:
		n, convErr := strconv.Atoi(c.DefaultQuery("days", "7"))
		if convErr != nil {
			abort(c, http.StatusBadRequest, "days must be an integer")
			return
		}
		days, err = s.deps.Labels.LastDays(c.Request.Context(), n)
	}
	if err != nil {
		s.storageError(c, err)
		return
	}
	if days == nil {
		days = []*domain.DailyLabelMetrics{}
	}
	c.JSON(http.StatusOK, days)
}

// exportLabels serves ?format=csv|json as a download.
func (s *Server) exportLabels(c *gin.Context) {
	if s.deps.Labels == nil {
		abort(c, http.StatusServiceUnavailable, "label metrics disabled")
		return
	}

	ctx := c.Request.Context()
	switch format := c.DefaultQuery("format", "json"); format {
	case "csv":
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", `attachment; filename="label-metrics.csv"`)
		if err := s.deps.Labels.ExportCSV(ctx, c.Writer); err != nil {
			s.storageError(c, err)
		}
	case "json":
		c.Header("Content-Type", "application/json")
		c.Header("Content-Disposition", `attachment; filename="label-metrics.json"`)
		if err := s.deps.Labels.ExportJSON(ctx, c.Writer); err != nil {
			s.storageError(c, err)
		}
	default:
		abort(c, http.StatusBadRequest, "format must be csv or json")
	}
}

func (s *Server) storageError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrInvalidInput) {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Warn("label metrics request failed", zap.Error(err))
	abort(c, http.StatusInternalServerError, "label metrics unavailable")
}

type delayReq struct {
	DelayMs *int64 `json:"delayMs" binding:"required"`
}

func (s *Server) controlQueue(c *gin.Context) {
	q := s.deps.Queue
	switch c.Param("action") {
	case "pause":
		q.Pause()
	case "resume":
		q.Resume()
	case "clear":
		q.Clear()
	case "delay":
		var req delayReq
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		if *req.DelayMs < 0 {
			abort(c, http.StatusBadRequest, "delayMs must not be negative")
			return
		}
		q.SetDelay(time.Duration(*req.DelayMs) * time.Millisecond)
	default:
		abort(c, http.StatusNotFound, "unknown queue action")
		return
	}
	c.JSON(http.StatusOK, s.queueStatus())
}
