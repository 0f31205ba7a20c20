package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/proto"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	hub        core.Hub
	iceServers []string
	log        *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub core.Hub, iceServers []string, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:        hub,
		iceServers: iceServers,
		log:        logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OnlineUsersResponse lists registered identities.
type OnlineUsersResponse struct {
	Users []string `json:"users"`
}

// MessagesResponse carries the stored history.
type MessagesResponse struct {
	Messages []proto.ChatMessage `json:"messages"`
}

// ICEServer mirrors the RTCIceServer shape browsers expect.
type ICEServer struct {
	URLs []string `json:"urls"`
}

// ICEServersResponse is the body of GET /api/ice-servers.
type ICEServersResponse struct {
	ICEServers []ICEServer `json:"iceServers"`
}

// OnlineUsers returns the presence directory.
// GET /api/online
func (h *APIHandlers) OnlineUsers(c *gin.Context) {
	users := h.hub.OnlineUsers()
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, OnlineUsersResponse{Users: users})
}

// Messages returns the chat history in creation order.
// GET /api/messages
func (h *APIHandlers) Messages(c *gin.Context) {
	msgs, err := h.hub.History(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{Messages: wireMessages(msgs)})
}

// DeleteMessage removes a message owned by the caller. Admins may delete any message.
// DELETE /api/messages/:id
func (h *APIHandlers) DeleteMessage(c *gin.Context) {
	id := c.Param("id")
	username := c.GetString(ContextKeyUsername)
	role := core.ParseRole(c.GetString(ContextKeyRole))

	err := h.hub.DeleteMessage(c.Request.Context(), id, username, role)
	switch {
	case err == nil:
		h.log.Info().Str("id", id).Str("username", username).Msg("message deleted")
		c.Status(http.StatusNoContent)
	case errors.Is(err, core.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
	case errors.Is(err, core.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not allowed to delete this message"})
	default:
		h.log.Error().Err(err).Str("id", id).Msg("failed to delete message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// ICEServers returns the STUN/TURN urls clients should use.
// GET /api/ice-servers
func (h *APIHandlers) ICEServers(c *gin.Context) {
	servers := make([]ICEServer, 0, len(h.iceServers))
	for _, url := range h.iceServers {
		servers = append(servers, ICEServer{URLs: []string{url}})
	}
	c.JSON(http.StatusOK, ICEServersResponse{ICEServers: servers})
}
