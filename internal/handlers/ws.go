package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/xuhao2004/kimochi-sub000/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	hub *ws.Hub
}

func NewWSHandler(hub *ws.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket godoc
// @Summary      WebSocket connection for room updates
// @Description  Pushes new messages, including invite envelope updates, as
// @Description  they are appended to the room log.
// @Tags         websocket
// @Param        id path int true "Room ID"
// @Router       /ws/room/{id} [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	rid := uint(roomID)
	h.hub.AddConnection(rid, conn)
	defer h.hub.RemoveConnection(rid, conn)

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
