package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xuhao2004/kimochi-sub000/internal/services"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService *services.ChatService
}

func NewChatHandler(chatService *services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

type CreateRoomRequest struct {
	PeerID uint `json:"peer_id" binding:"required" example:"2"`
}

// CreateRoom godoc
// @Summary      Open a direct room with another user
// @Tags         rooms
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CreateRoomRequest true "Peer"
// @Success      201 {object} models.Room
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/rooms [post]
func (h *ChatHandler) CreateRoom(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	room, err := h.chatService.CreateDirectRoom(userID, req.PeerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, room)
}

// ListRooms godoc
// @Summary      List the caller's rooms
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Success      200 {array} models.Room
// @Router       /api/v1/rooms [get]
func (h *ChatHandler) ListRooms(c *gin.Context) {
	userID := c.GetUint("user_id")

	rooms, err := h.chatService.ListRooms(userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, rooms)
}

type SendMessageRequest struct {
	Kind    string          `json:"kind" binding:"required"`
	Body    string          `json:"body"`
	Payload json.RawMessage `json:"payload"`
}

// SendMessage godoc
// @Summary      Append a message to a room
// @Description  Text messages carry a body; invite_assessment messages
// @Description  carry an invite envelope that is validated against the
// @Description  invite lifecycle before the append.
// @Tags         rooms
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Room ID"
// @Param        request body SendMessageRequest true "Message"
// @Success      201 {object} models.Message
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/rooms/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID := c.GetUint("user_id")
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	msg, err := h.chatService.SendMessage(uint(roomID), userID, req.Kind, req.Body, req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// ListMessages godoc
// @Summary      Get the room message log
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Room ID"
// @Success      200 {array} models.Message
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/rooms/{id}/messages [get]
func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID := c.GetUint("user_id")
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	msgs, err := h.chatService.ListMessages(uint(roomID), userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, msgs)
}
