// Exposes all of the REST APIs related to realtime streams in Shipper.

package realtime

import (
	"Shipper/internal/auth"
	"Shipper/internal/entity"
	"Shipper/internal/errors"
	"Shipper/internal/presence"
	"Shipper/internal/sse"
	"Shipper/pkg/log"
	"Shipper/pkg/middlewares"
	"Shipper/pkg/validation"
	"encoding/json"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
)

// Middlewares guarding the realtime routes.
type Guards struct {
	// User resolves the optional user of a stream.
	User gin.HandlerFunc
	// RequireUser rejects anonymous requests.
	RequireUser gin.HandlerFunc
	// Internal admits service to service calls.
	Internal gin.HandlerFunc
}

// Registers all of the REST API handlers related to internal package realtime onto the gin server.
func APIHandlers(router *gin.Engine, hub *Hub, publisher *Publisher, presenceSvc presence.Service, guards Guards, logger log.Logger) {
	validation.RegisterCustomValidations(func(s string) bool {
		t := entity.EventType(s)
		return t.Known() || entity.IsFileEventType(t)
	})

	sseGroup := router.Group("/api/sse")
	{
		streams := sseGroup.Group("", guards.User, middlewares.SSEMiddleware())
		streams.GET("/projects/:projectId/stream", projectStream(hub, presenceSvc, logger))
		streams.GET("/workspaces/:workspaceId/stream", workspaceStream(hub, logger))
		streams.GET("/projects/:projectId/files/stream", fileStream(hub, logger))

		sseGroup.POST("/projects/:projectId/typing", guards.User, guards.RequireUser, typing(publisher, logger))
		sseGroup.GET("/projects/:projectId/presence", guards.User, projectPresence(presenceSvc, logger))
		sseGroup.GET("/stats", stats(hub))
		sseGroup.POST("/internal/projects/:projectId/events", guards.Internal, internalPublish(hub, publisher, logger))
	}
}

// Helper to read and check an id path parameter, responds 400 itself when invalid.
func channelID(gctx *gin.Context, param string) (string, bool) {
	id := gctx.Param(param)
	if !validation.ValidChannelID(id) {
		gctx.JSON(http.StatusBadRequest, errors.BadRequest("invalid "+param))
		return "", false
	}
	return id, true
}

// serveStream queues the handshake, registers client through open and pumps
// frames until the peer goes away or the hub closes the client.
func serveStream(gctx *gin.Context, hub *Hub, client *sse.Client, hello []byte, open func() func()) {
	_ = client.Send(hello)
	closeFn := open()
	defer func() {
		closeFn()
		client.Close()
	}()
	gctx.Stream(sse.Pump(gctx.Request.Context(), client, hub.opts.Heartbeat))
}

func projectStream(hub *Hub, presenceSvc presence.Service, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		projectID, ok := channelID(gctx, "projectId")
		if !ok {
			return
		}
		channel := entity.ProjectChannel(projectID)
		userID := auth.UserID(gctx)
		client := sse.NewClient(userID, hub.opts.ClientQueue)
		logger.WithCtx(gctx).Info().Str("channel", channel).Str("client", client.ID).Msg("Opened project stream")

		serveStream(gctx, hub, client, sse.ConnectedFrame("channel", channel), func() func() {
			unsubscribe := hub.Subscribe(channel, client)
			leave := presenceSvc.Connect(gctx.Request.Context(), projectID, userID)
			return func() {
				unsubscribe()
				leave()
			}
		})
		logger.WithCtx(gctx).Info().Str("channel", channel).Str("client", client.ID).Msg("Closed project stream")
	}
}

func workspaceStream(hub *Hub, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		workspaceID, ok := channelID(gctx, "workspaceId")
		if !ok {
			return
		}
		channel := entity.WorkspaceChannel(workspaceID)
		client := sse.NewClient(auth.UserID(gctx), hub.opts.ClientQueue)
		logger.WithCtx(gctx).Info().Str("channel", channel).Str("client", client.ID).Msg("Opened workspace stream")

		serveStream(gctx, hub, client, sse.ConnectedFrame("channel", channel), func() func() {
			return hub.Subscribe(channel, client)
		})
	}
}

func fileStream(hub *Hub, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		projectID, ok := channelID(gctx, "projectId")
		if !ok {
			return
		}
		client := sse.NewClient(auth.UserID(gctx), hub.opts.ClientQueue)
		logger.WithCtx(gctx).Info().Str("project", projectID).Str("client", client.ID).Msg("Opened file stream")

		serveStream(gctx, hub, client, sse.ConnectedFrame("projectId", projectID), func() func() {
			return hub.AddFileClient(projectID, client)
		})
	}
}

type typingRequest struct {
	IsTyping bool `json:"isTyping"`
}

func typing(publisher *Publisher, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		projectID, ok := channelID(gctx, "projectId")
		if !ok {
			return
		}
		var req typingRequest
		if bnderr := gctx.ShouldBindJSON(&req); bnderr != nil {
			// Error occured while binding the request body
			gctx.JSON(http.StatusBadRequest, errors.BadRequest(""))
			return
		}
		if !publisher.PublishTyping(projectID, auth.UserID(gctx), req.IsTyping) {
			logger.WithCtx(gctx).Error().Str("project", projectID).Msg("Error occured while publishing typing state")
			gctx.JSON(http.StatusInternalServerError, errors.InternalServerError(""))
			return
		}
		gctx.Status(http.StatusNoContent)
	}
}

func projectPresence(presenceSvc presence.Service, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		projectID, ok := channelID(gctx, "projectId")
		if !ok {
			return
		}
		users, err := presenceSvc.Members(gctx, projectID)
		if err != nil {
			// Error occured, repository already logged it
			err, ok := err.(errors.ErrorResponse)
			if !ok {
				err = errors.InternalServerError("")
			}
			gctx.JSON(err.Status, err)
			return
		}
		gctx.JSON(http.StatusOK, gin.H{"projectId": projectID, "users": users})
	}
}

func stats(hub *Hub) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		gctx.JSON(http.StatusOK, hub.Stats())
	}
}

// publishRequest is the body of the internal publish API.
// File event data carries {path, content}, every other type the payload of that event.
type publishRequest struct {
	Type   string          `json:"type" valid:"required,eventtype"`
	Data   json.RawMessage `json:"data" valid:"-"`
	UserID string          `json:"userId" valid:"optional,nospace"`
}

type fileEventData struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func internalPublish(hub *Hub, publisher *Publisher, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		projectID, ok := channelID(gctx, "projectId")
		if !ok {
			return
		}
		var req publishRequest
		if bnderr := gctx.ShouldBindJSON(&req); bnderr != nil {
			gctx.JSON(http.StatusBadRequest, errors.BadRequest(""))
			return
		}
		if _, valerr := govalidator.ValidateStruct(req); valerr != nil {
			valerr := valerr.(govalidator.Errors).Errors()
			gctx.JSON(http.StatusBadRequest, errors.GenerateValidationErrorResponse(valerr))
			return
		}

		if t := entity.EventType(req.Type); entity.IsFileEventType(t) {
			var data fileEventData
			if len(req.Data) > 0 {
				if prserr := json.Unmarshal(req.Data, &data); prserr != nil {
					gctx.JSON(http.StatusBadRequest, errors.BadRequest("data doesn't match "+req.Type))
					return
				}
			}
			if !publisher.file(t, projectID, data.Path, data.Content) {
				gctx.JSON(http.StatusInternalServerError, errors.InternalServerError(""))
				return
			}
			gctx.Status(http.StatusAccepted)
			return
		}

		// Decoding the envelope checks data against the payload of its type
		wire, _ := json.Marshal(map[string]any{
			"type":      req.Type,
			"data":      req.Data,
			"userId":    req.UserID,
			"timestamp": time.Now().UnixMilli(),
		})
		ev, decerr := entity.DecodeEvent(wire)
		if decerr != nil {
			gctx.JSON(http.StatusBadRequest, errors.BadRequest("data doesn't match "+req.Type))
			return
		}
		if puberr := hub.Publish(gctx, entity.ProjectChannel(projectID), ev); puberr != nil {
			logger.WithCtx(gctx).Error().Err(puberr).Str("project", projectID).Msg("Error occured in internal publish")
			gctx.JSON(http.StatusInternalServerError, errors.InternalServerError(""))
			return
		}
		gctx.Status(http.StatusAccepted)
	}
}
