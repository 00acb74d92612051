package contact

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dhawalhost/contactguard/internal/authz"
	"github.com/dhawalhost/contactguard/internal/enforce"
	"github.com/dhawalhost/contactguard/internal/identity"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ResultResponse is the body of successful create, update and delete calls.
type ResultResponse struct {
	Result string `json:"result"`
}

type idParam struct {
	ID string `validate:"required,max=128,printascii"`
}

// HTTPHandler serves the contacts routes.
type HTTPHandler struct {
	orchestrator *enforce.Orchestrator[Contact]
	logger       *zap.Logger
	validate     *validator.Validate
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(orchestrator *enforce.Orchestrator[Contact], logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orchestrator: orchestrator, logger: logger, validate: validator.New()}
}

// RegisterRoutes registers the contacts routes behind auth.
func (h *HTTPHandler) RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	contacts := router.Group("/contacts", auth)
	{
		contacts.GET("", h.listContacts)
		contacts.POST("/new", h.createContact)
		contacts.GET("/:id", h.getContact)
		contacts.PATCH("/:id", h.updateContact)
		contacts.DELETE("/:id", h.deleteContact)
	}
}

func (h *HTTPHandler) getContact(c *gin.Context) {
	id, ok := h.contactID(c)
	if !ok {
		return
	}
	out, ok := h.execute(c, readRoute, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, out.Record)
}

func (h *HTTPHandler) createContact(c *gin.Context) {
	if _, ok := h.execute(c, createRoute, ""); !ok {
		return
	}
	c.JSON(http.StatusOK, ResultResponse{Result: "Created contact"})
}

func (h *HTTPHandler) updateContact(c *gin.Context) {
	id, ok := h.contactID(c)
	if !ok {
		return
	}
	if _, ok := h.execute(c, updateRoute, id); !ok {
		return
	}
	c.JSON(http.StatusOK, ResultResponse{Result: fmt.Sprintf("Updated contact %s", id)})
}

func (h *HTTPHandler) deleteContact(c *gin.Context) {
	id, ok := h.contactID(c)
	if !ok {
		return
	}
	if _, ok := h.execute(c, deleteRoute, id); !ok {
		return
	}
	c.JSON(http.StatusOK, ResultResponse{Result: fmt.Sprintf("Contact %s deleted", id)})
}

func (h *HTTPHandler) listContacts(c *gin.Context) {
	out, ok := h.execute(c, listRoute, "")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, out.Records)
}

func (h *HTTPHandler) contactID(c *gin.Context) (string, bool) {
	req := idParam{ID: c.Param("id")}
	if err := h.validate.Struct(req); err != nil {
		h.logger.Debug("Contact id validation failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return "", false
	}
	return req.ID, true
}

// execute runs route and writes the response for every outcome other than
// success. The returned bool reports whether the caller should write the
// success body.
func (h *HTTPHandler) execute(c *gin.Context, route enforce.Route, id string) (enforce.Outcome[Contact], bool) {
	claims, err := identity.ClaimsFromGinContext(c)
	if err != nil {
		h.logger.Error("Claims missing from authenticated route", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return enforce.Outcome[Contact]{}, false
	}

	out, err := h.orchestrator.Execute(c.Request.Context(), route, claims, id)
	if err != nil {
		h.handleOutcomeError(c, route, err)
		return out, false
	}

	switch out.Status {
	case enforce.StatusAllowed:
		return out, true
	case enforce.StatusNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
	}
	return out, false
}

func (h *HTTPHandler) handleOutcomeError(c *gin.Context, route enforce.Route, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidPrincipal):
		h.logger.Warn("Rejected principal", zap.String("action", route.Action), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid principal"})
	case errors.Is(err, authz.ErrDecisionUnavailable):
		h.logger.Error("Authorization service unavailable", zap.String("action", route.Action), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authorization service unavailable"})
	default:
		h.logger.Error("Contact operation failed", zap.String("action", route.Action), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
