// internal/api/handlers.go
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shopdesk/internal/archive"
	"shopdesk/internal/models"
	"shopdesk/internal/store"
)

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_FAILED", "message": msg})
}

// --- settings ---

func (s *Server) getSettings(c *gin.Context) {
	st, err := s.opts.Settings.Get(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) updateSettings(c *gin.Context) {
	var req struct {
		AutoReplyEnabled    *bool    `json:"autoReplyEnabled"`
		ConfidenceThreshold *float64 `json:"confidenceThreshold"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	current, err := s.opts.Settings.Get(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if req.AutoReplyEnabled != nil {
		current.AutoReplyEnabled = *req.AutoReplyEnabled
	}
	if req.ConfidenceThreshold != nil {
		current.ConfidenceThreshold = *req.ConfidenceThreshold
	}

	updated, err := s.opts.Settings.Update(c.Request.Context(), current)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("settings updated", map[string]interface{}{
		"autoReplyEnabled":    updated.AutoReplyEnabled,
		"confidenceThreshold": updated.ConfidenceThreshold,
	})
	c.JSON(http.StatusOK, updated)
}

// --- training ---

func (s *Server) listTraining(c *gin.Context) {
	ctx := c.Request.Context()
	pairs, err := s.opts.Training.List(ctx, store.TrainingFilter{
		Category: models.ParseCategory(c.Query("category")),
		Limit:    queryInt(c, "limit", 50),
		Offset:   queryInt(c, "offset", 0),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	total, err := s.opts.Training.Count(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairs": pairs, "total": total})
}

func (s *Server) createTraining(c *gin.Context) {
	var pair models.TrainingPair
	if err := c.ShouldBindJSON(&pair); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(pair.CustomerMessage) == "" || strings.TrimSpace(pair.EmployeeResponse) == "" {
		badRequest(c, "customerMessage and employeeResponse are required")
		return
	}
	// hand-entered pairs get their own dedup key
	if pair.ConversationID == "" {
		pair.ConversationID = "manual"
	}
	if pair.MessageID == "" {
		pair.MessageID = uuid.NewString()
	}

	n, err := s.opts.Training.Insert(c.Request.Context(), []models.TrainingPair{pair})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"inserted": n, "messageId": pair.MessageID})
}

func (s *Server) deleteTraining(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	if err := s.opts.Training.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- products ---

func (s *Server) listProducts(c *gin.Context) {
	products, err := s.opts.Products.ListActive(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (s *Server) upsertProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	saved, err := s.opts.Products.Upsert(c.Request.Context(), p)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// --- orders ---

func (s *Server) listOrders(c *gin.Context) {
	orders, err := s.opts.Orders.List(c.Request.Context(), models.OrderStatus(c.Query("status")), queryInt(c, "limit", 50))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) createOrder(c *gin.Context) {
	var o models.Order
	if err := c.ShouldBindJSON(&o); err != nil {
		badRequest(c, err.Error())
		return
	}
	created, err := s.opts.Orders.Create(c.Request.Context(), o)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("order created", map[string]interface{}{"orderId": created.ID, "total": created.Total})
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.opts.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) updateOrderStatus(c *gin.Context) {
	var req struct {
		Status models.OrderStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	o, err := s.opts.Orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) createShipment(c *gin.Context) {
	if s.opts.Shipper == nil {
		s.respondError(c, errUnavailable)
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	o, err := s.opts.Orders.Get(ctx, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if o.Status != models.OrderStatusConfirmed {
		s.respondError(c, fmt.Errorf("%w: order is %s, only confirmed orders can ship", store.ErrConflict, o.Status))
		return
	}

	shipment, err := s.opts.Shipper.CreateShipment(ctx, o, req.Note)
	if err != nil {
		s.respondError(c, err)
		return
	}
	updated, err := s.opts.Orders.SetTracking(ctx, o.ID, shipment.TrackingCode)
	if err != nil {
		// the parcel is booked; surface the code so staff can fix the order by hand
		s.logger.Error("shipment booked but order not updated", map[string]interface{}{
			"orderId":      o.ID,
			"trackingCode": shipment.TrackingCode,
			"error":        err,
		})
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": updated, "shipment": shipment})
}

func (s *Server) trackOrder(c *gin.Context) {
	if s.opts.Shipper == nil {
		s.respondError(c, errUnavailable)
		return
	}
	ctx := c.Request.Context()
	o, err := s.opts.Orders.Get(ctx, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if o.TrackingCode == "" {
		s.respondError(c, fmt.Errorf("%w: order has no tracking code", store.ErrConflict))
		return
	}

	tracking, err := s.opts.Shipper.TrackShipment(ctx, o.TrackingCode)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if tracking.Delivered() && o.Status == models.OrderStatusShipping {
		if o, err = s.opts.Orders.UpdateStatus(ctx, o.ID, models.OrderStatusDelivered); err != nil {
			s.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"order": o, "tracking": tracking})
}

func (s *Server) syncOrder(c *gin.Context) {
	if s.opts.Sheets == nil {
		s.respondError(c, errUnavailable)
		return
	}
	ctx := c.Request.Context()
	o, err := s.opts.Orders.Get(ctx, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	rows, err := s.opts.Sheets.Append(ctx, []models.Order{o})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.opts.Orders.MarkSynced(ctx, []string{o.ID}, time.Now().UTC()); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

// --- assistant ---

func (s *Server) previewReply(c *gin.Context) {
	var req struct {
		Message string                    `json:"message" binding:"required"`
		History []models.ConversationTurn `json:"history"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := s.opts.AutoReply.Preview(c.Request.Context(), req.Message, req.History)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) searchConversations(c *gin.Context) {
	if s.opts.Archive == nil {
		s.respondError(c, errUnavailable)
		return
	}
	q := archive.Query{
		Text:           c.Query("q"),
		ConversationID: c.Query("conversationId"),
		Platform:       c.Query("platform"),
		HandoffOnly:    c.Query("handoff") == "true",
		From:           queryInt(c, "from", 0),
		Size:           queryInt(c, "size", 20),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			badRequest(c, "since must be RFC3339")
			return
		}
		q.Since = t
	}

	res, err := s.opts.Archive.Search(c.Request.Context(), q)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
