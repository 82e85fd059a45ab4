package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rtchub/rtchub/internal/domain"
	"github.com/rtchub/rtchub/internal/room"
)

type roomHandlers struct {
	rooms *room.Service
}

type createRoomRequest struct {
	Name         string `json:"name"`
	Creator      string `json:"creator"`
	Password     string `json:"password,omitempty"`
	Private      bool   `json:"private"`
	MaxOccupancy int    `json:"maxOccupancy"`
}

type updateRoomRequest struct {
	Name         string `json:"name"`
	Password     string `json:"password,omitempty"`
	MaxOccupancy int    `json:"maxOccupancy"`
}

func (h *roomHandlers) list(c *gin.Context) {
	keyword := c.Query("keyword")
	pageNum, _ := strconv.Atoi(c.DefaultQuery("pageNum", "0"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	rooms, err := h.rooms.List(c.Request.Context(), keyword, pageNum, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *roomHandlers) create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	r, err := h.rooms.Create(c.Request.Context(), room.CreateParams{
		Name:         req.Name,
		Creator:      req.Creator,
		Password:     req.Password,
		Private:      req.Private,
		MaxOccupancy: req.MaxOccupancy,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *roomHandlers) find(c *gin.Context) {
	r, err := h.rooms.Find(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *roomHandlers) update(c *gin.Context) {
	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	r, err := h.rooms.Update(c.Request.Context(), domain.RoomID(c.Param("id")), req.Name, req.Password, req.MaxOccupancy)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *roomHandlers) softDelete(c *gin.Context) {
	if err := h.rooms.SoftDelete(c.Request.Context(), domain.RoomID(c.Param("id"))); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateRoomName), errors.Is(err, domain.ErrRoomBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCapacityExceeded), errors.Is(err, room.ErrInvalidRoomName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
