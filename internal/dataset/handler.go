package dataset

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"mavedb/internal/access"
	"mavedb/internal/domain"
	"mavedb/internal/errors"
	"mavedb/internal/middleware"
	"mavedb/internal/utils"

	"github.com/gin-gonic/gin"
)

// KindPaths maps the url segment of each entity collection to its kind.
var KindPaths = map[string]domain.EntityKind{
	"experiment-sets": domain.KindExperimentSet,
	"experiments":     domain.KindExperiment,
	"score-sets":      domain.KindScoreSet,
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the dataset routes on r. required rejects anonymous callers
// and optional resolves the caller when a token is present.
func (h *Handler) Register(r gin.IRouter, required, optional gin.HandlerFunc) {
	r.POST("/experiment-sets", required, h.CreateExperimentSet)
	r.POST("/experiments", required, h.CreateExperiment)
	r.POST("/score-sets", required, h.CreateScoreSet)

	for path, kind := range KindPaths {
		g := r.Group("/" + path)
		g.GET("", h.List(kind))
		g.GET("/:id", optional, h.Show(kind))
		g.PATCH("/:id", required, h.Update(kind))
		g.DELETE("/:id", required, h.Delete(kind))
		g.GET("/:id/contributors", optional, h.ListContributors(kind))
		g.PUT("/:id/contributors/:role", required, h.UpdateRoleList(kind))
		g.PUT("/:id/contributors/:role/:userId", required, h.SetContributor(kind))
		g.DELETE("/:id/contributors/:role/:userId", required, h.RemoveContributor(kind))
	}

	r.POST("/score-sets/:id/publish", required, h.Publish)
	r.POST("/score-sets/:id/variants", required, h.SubmitVariants)
	r.GET("/score-sets/:id/variants", optional, h.ListVariants)
	r.GET("/me/:kind", required, h.ListMine)
}

func parseID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.Error(errors.BadRequest("Invalid "+name, err))
		return 0, false
	}
	return id, true
}

func parseRole(c *gin.Context, s string) (access.Role, bool) {
	role, err := access.ParseRole(s)
	if err != nil {
		c.Error(errors.BadRequest(err.Error(), err))
		return "", false
	}
	return role, true
}

func (h *Handler) CreateExperimentSet(c *gin.Context) {
	var req CreateExperimentSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	dto, err := h.service.CreateExperimentSet(c.Request.Context(), middleware.CurrentUser(c), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto)
}

func (h *Handler) CreateExperiment(c *gin.Context) {
	var req CreateExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	dto, err := h.service.CreateExperiment(c.Request.Context(), middleware.CurrentUser(c), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto)
}

func (h *Handler) CreateScoreSet(c *gin.Context) {
	var req CreateScoreSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	dto, err := h.service.CreateScoreSet(c.Request.Context(), middleware.CurrentUser(c), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto)
}

func (h *Handler) List(kind domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, pageSize := utils.GetPaginationParams(c)
		result, err := h.service.ListPublished(c.Request.Context(), kind, page, pageSize)
		if err != nil {
			c.Error(err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func (h *Handler) Show(kind domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}

		dto, err := h.service.GetEntity(c.Request.Context(), middleware.CurrentUser(c), kind, id)
		if err != nil {
			c.Error(err)
			return
		}

		c.JSON(http.StatusOK, dto)
	}
}

func (h *Handler) Update(kind domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}

		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewValidationError(err))
			return
		}

		dto, err := h.service.UpdateEntity(c.Request.Context(), middleware.CurrentUser(c), kind, id, req)
		if err != nil {
			c.Error(err)
			return
		}

		c.JSON(http.StatusOK, dto)
	}
}

func (h *Handler) Delete(kind domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}

		if err := h.service.DeleteEntity(c.Request.Context(), middleware.CurrentUser(c), kind, id); err != nil {
			c.Error(err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func (h *Handler) ListContributors(kind domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}

		result, err := h.service.ListContributors(c.Request.Context(), middleware.CurrentUser(c), kind, id)
		if err != nil {
			c.Error(err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func (h *Handler) UpdateRoleList(kind domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		role, ok := parseRole(c, c.Param("role"))
		if !ok {
			return
		}

		var req RoleListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewValidationError(err))
			return
		}

		result, err := h.service.UpdateRoleList(c.Request.Context(), middleware.CurrentUser(c), kind, id, role, req.UserIDs)
		if err != nil {
			c.Error(err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func (h *Handler) SetContributor(kind domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		targetID, ok := parseID(c, "userId")
		if !ok {
			return
		}
		role, ok := parseRole(c, c.Param("role"))
		if !ok {
			return
		}

		result, err := h.service.SetContributor(c.Request.Context(), middleware.CurrentUser(c), kind, id, targetID, role)
		if err != nil {
			c.Error(err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func (h *Handler) RemoveContributor(kind domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		targetID, ok := parseID(c, "userId")
		if !ok {
			return
		}
		role, ok := parseRole(c, c.Param("role"))
		if !ok {
			return
		}

		err := h.service.RemoveContributor(c.Request.Context(), middleware.CurrentUser(c), kind, id, targetID, role)
		if err != nil {
			c.Error(err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func (h *Handler) Publish(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	dto, err := h.service.Publish(c.Request.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto)
}

func openFormFile(c *gin.Context, field string) (multipart.File, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if err == http.ErrMissingFile {
			return nil, nil
		}
		return nil, errors.BadRequest("Invalid "+field, err)
	}
	return fh.Open()
}

// SubmitVariants accepts a multipart form with scores_file and an optional
// counts_file.
func (h *Handler) SubmitVariants(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	scores, err := openFormFile(c, fieldScores)
	if err != nil {
		c.Error(err)
		return
	}
	if scores == nil {
		c.Error(errors.Validation(fieldScores, errScoresRequired))
		return
	}
	defer scores.Close()

	counts, err := openFormFile(c, fieldCounts)
	if err != nil {
		c.Error(err)
		return
	}
	var countsReader io.Reader
	if counts != nil {
		defer counts.Close()
		countsReader = counts
	}

	dto, err := h.service.SubmitVariants(c.Request.Context(), middleware.CurrentUser(c), id, scores, countsReader)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, dto)
}

func (h *Handler) ListVariants(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	page, pageSize := utils.GetPaginationParams(c)
	result, err := h.service.ListVariants(c.Request.Context(), middleware.CurrentUser(c), id, page, pageSize)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListMine lists the caller's entities of one kind, filtered by ?role=
// (default any).
func (h *Handler) ListMine(c *gin.Context) {
	kind, ok := KindPaths[c.Param("kind")]
	if !ok {
		var err error
		if kind, err = domain.ParseEntityKind(c.Param("kind")); err != nil {
			c.Error(errors.NotFound("Unknown collection", err))
			return
		}
	}
	role, ok := parseRole(c, c.DefaultQuery("role", string(access.RoleAny)))
	if !ok {
		return
	}

	result, err := h.service.ListForUser(c.Request.Context(), middleware.CurrentUser(c), kind, role)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
