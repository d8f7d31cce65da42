package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/ledger"
	"github.com/mxpv/pledgesync/pkg/model"
	"github.com/mxpv/pledgesync/services/allocate"
	"github.com/mxpv/pledgesync/services/reconcile"
)

const (
	defaultActor = "api"
)

type allocationService interface {
	CreateAllocation(ctx context.Context, req allocate.Request) (string, error)
	Transition(ctx context.Context, pledgeID string, to model.PledgeStatus, actor string) error
}

type ledgerService interface {
	Snapshot(ctx context.Context, pledgeID string) (*ledger.Snapshot, error)
	BeneficiaryRemainingNeed(ctx context.Context, cmsID string) (decimal.Decimal, error)
}

type reconcileService interface {
	Run(ctx context.Context) (*reconcile.Summary, error)
}

type auditService interface {
	Trail(ctx context.Context, targetID string) ([]*model.AuditRecord, error)
}

type handler struct {
	allocations allocationService
	ledger      ledgerService
	reconciler  reconcileService
	audit       auditService
}

func New(allocations allocationService, ledger ledgerService, reconciler reconcileService, audit auditService) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	h := handler{
		allocations: allocations,
		ledger:      ledger,
		reconciler:  reconciler,
		audit:       audit,
	}

	r.GET("/api/ping", h.ping)
	r.POST("/api/allocations", h.createAllocation)
	r.GET("/api/pledges/:pledgeId", h.pledge)
	r.POST("/api/pledges/:pledgeId/transition", h.transition)
	r.GET("/api/needs/:cmsId", h.need)
	r.POST("/api/reconcile", h.reconcile)
	r.GET("/api/audit/:targetId", h.trail)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (h handler) ping(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type allocationRequest struct {
	PledgeID string          `json:"pledge_id" binding:"required"`
	CmsID    string          `json:"cms_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Actor    string          `json:"actor"`
}

func (h handler) createAllocation(c *gin.Context) {
	req := &allocationRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(badRequest(err))
		return
	}

	allocID, err := h.allocations.CreateAllocation(c.Request.Context(), allocate.Request{
		PledgeID: req.PledgeID,
		CmsID:    req.CmsID,
		Amount:   req.Amount,
		Actor:    actor(req.Actor),
	})
	if err != nil {
		c.JSON(failure(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"alloc_id": allocID})
}

func (h handler) pledge(c *gin.Context) {
	pledgeID := c.Param("pledgeId")
	if _, _, err := model.ParsePledgeID(pledgeID); err != nil {
		c.JSON(badRequest(err))
		return
	}

	snapshot, err := h.ledger.Snapshot(c.Request.Context(), pledgeID)
	if err != nil {
		c.JSON(failure(err))
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
	Actor  string `json:"actor"`
}

func (h handler) transition(c *gin.Context) {
	pledgeID := c.Param("pledgeId")

	req := &transitionRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(badRequest(err))
		return
	}

	to := model.PledgeStatus(req.Status)
	if err := h.allocations.Transition(c.Request.Context(), pledgeID, to, actor(req.Actor)); err != nil {
		c.JSON(failure(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"pledge_id": pledgeID, "status": to})
}

func (h handler) need(c *gin.Context) {
	cmsID := c.Param("cmsId")

	need, err := h.ledger.BeneficiaryRemainingNeed(c.Request.Context(), cmsID)
	if err != nil {
		c.JSON(failure(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"cms_id": cmsID, "remaining_need": need})
}

func (h handler) reconcile(c *gin.Context) {
	summary, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		c.JSON(failure(err))
		return
	}

	resp := gin.H{
		"signals":   summary.Signals,
		"outcomes":  summary.Outcomes,
		"confirmed": summary.Confirmed,
	}

	if summary.Err != nil {
		resp["errors"] = summary.Err.Error()
	}

	c.JSON(http.StatusOK, resp)
}

func (h handler) trail(c *gin.Context) {
	records, err := h.audit.Trail(c.Request.Context(), c.Param("targetId"))
	if err != nil {
		c.JSON(failure(err))
		return
	}

	if records == nil {
		records = []*model.AuditRecord{}
	}

	c.JSON(http.StatusOK, records)
}

func actor(name string) string {
	if name == "" {
		return defaultActor
	}
	return name
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(started),
		}).Debug("http request")
	}
}

// failure maps a service error to a status code.
func failure(err error) (int, interface{}) {
	switch {
	case model.IsValidation(err):
		return http.StatusUnprocessableEntity, gin.H{"error": err.Error()}
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	case errors.Is(err, model.ErrLockTimeout),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, reconcile.ErrRunInProgress):
		return http.StatusConflict, gin.H{"error": err.Error()}
	default:
		return internalError(err)
	}
}

func badRequest(err error) (int, interface{}) {
	return http.StatusBadRequest, gin.H{"error": err.Error()}
}

func internalError(err error) (int, interface{}) {
	log.Printf("server error: %+v", err)
	return http.StatusInternalServerError, gin.H{"error": err.Error()}
}
