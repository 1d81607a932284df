package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"repotrack/internal/models"
	"repotrack/internal/utils"
	"repotrack/internal/validation"
)

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details []ViolationDetail `json:"details,omitempty"`
}

// ViolationDetail reports one broken validation rule.
type ViolationDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// UpdateRepositoryRequest carries a set of field changes plus the version the
// caller read before editing; the write succeeds only if the row is still at
// that version.
type UpdateRepositoryRequest struct {
	ExpectedVersion int64             `json:"expected_version" binding:"required"`
	Changes         map[string]string `json:"changes" binding:"required"`
}

// AddCommentRequest is a comment submission. A missing author becomes
// "Anonymous"; a blank one is rejected.
type AddCommentRequest struct {
	Comment string  `json:"comment" binding:"required"`
	Author  *string `json:"author"`
}

// AddVersionSnapshotRequest records a named release against a repository.
type AddVersionSnapshotRequest struct {
	VersionNumber string  `json:"version_number" binding:"required"`
	ReleaseDate   *string `json:"release_date"`
	Description   string  `json:"description"`
}

// respondError maps the error taxonomy to externally-visible status codes:
// validation 400, not found 404, lock conflict and duplicate 409, the rest
// 500.
func (s *Server) respondError(c *gin.Context, err error) {
	var verr *utils.ValidationError
	if errors.As(err, &verr) {
		details := make([]ViolationDetail, len(verr.Violations))
		for i, v := range verr.Violations {
			details[i] = ViolationDetail{Field: v.Field, Message: v.Message}
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   verr.Error(),
			Code:    "VALIDATION_ERROR",
			Details: details,
		})
		return
	}

	switch {
	case utils.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case utils.IsOptimisticLockError(err):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "OPTIMISTIC_LOCK_ERROR"})
	case utils.IsDuplicateError(err):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "DUPLICATE_RESOURCE"})
	default:
		s.logger.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "INTERNAL_ERROR"})
	}
}

func repoIDParam(c *gin.Context) string {
	return c.Param("owner") + "/" + c.Param("repo")
}

// listRepositoriesHandler godoc
// @Summary List tracked repositories
// @Tags repositories
// @Produce json
// @Success 200 {array} models.Repository
// @Failure 500 {object} ErrorResponse
// @Router /repositories [get]
func (s *Server) listRepositoriesHandler(c *gin.Context) {
	repos, err := s.store.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, repos)
}

// createRepositoryHandler godoc
// @Summary Track a new repository
// @Tags repositories
// @Accept json
// @Produce json
// @Param request body models.Repository true "Repository to track"
// @Success 201 {object} models.Repository
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /repositories [post]
func (s *Server) createRepositoryHandler(c *gin.Context) {
	var repo models.Repository
	if err := c.ShouldBindJSON(&repo); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST_FORMAT"})
		return
	}

	created, err := s.store.Insert(c.Request.Context(), repo)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// getRepositoryHandler godoc
// @Summary Get a repository with its current version
// @Tags repositories
// @Produce json
// @Param owner path string true "Repository owner"
// @Param repo path string true "Repository name"
// @Success 200 {object} models.Repository
// @Failure 404 {object} ErrorResponse
// @Router /repositories/{owner}/{repo} [get]
func (s *Server) getRepositoryHandler(c *gin.Context) {
	repo, err := s.store.Get(c.Request.Context(), repoIDParam(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, repo)
}

// updateRepositoryHandler godoc
// @Summary Update repository fields with optimistic locking
// @Description Applies field changes only if the repository is still at the expected version. On a 409 the caller should re-read and retry.
// @Tags repositories
// @Accept json
// @Produce json
// @Param owner path string true "Repository owner"
// @Param repo path string true "Repository name"
// @Param request body UpdateRepositoryRequest true "Field changes and expected version"
// @Success 200 {object} models.Repository
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /repositories/{owner}/{repo} [patch]
func (s *Server) updateRepositoryHandler(c *gin.Context) {
	var req UpdateRepositoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST_FORMAT"})
		return
	}

	updated, err := s.store.UpdateFields(c.Request.Context(), repoIDParam(c), req.Changes, req.ExpectedVersion)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteRepositoryHandler godoc
// @Summary Delete a repository and all of its history, comments and versions
// @Tags repositories
// @Param owner path string true "Repository owner"
// @Param repo path string true "Repository name"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /repositories/{owner}/{repo} [delete]
func (s *Server) deleteRepositoryHandler(c *gin.Context) {
	if err := s.store.Delete(c.Request.Context(), repoIDParam(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listCommentsHandler godoc
// @Summary List a repository's comments
// @Tags comments
// @Produce json
// @Param owner path string true "Repository owner"
// @Param repo path string true "Repository name"
// @Success 200 {array} models.RepositoryComment
// @Failure 404 {object} ErrorResponse
// @Router /repositories/{owner}/{repo}/comments [get]
func (s *Server) listCommentsHandler(c *gin.Context) {
	comments, err := s.store.ListComments(c.Request.Context(), repoIDParam(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, comments)
}

// addCommentHandler godoc
// @Summary Add a comment to a repository
// @Tags comments
// @Accept json
// @Produce json
// @Param owner path string true "Repository owner"
// @Param repo path string true "Repository name"
// @Param request body AddCommentRequest true "Comment to add"
// @Success 201 {object} models.RepositoryComment
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /repositories/{owner}/{repo}/comments [post]
func (s *Server) addCommentHandler(c *gin.Context) {
	var req AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST_FORMAT"})
		return
	}

	comment, err := s.store.AddComment(c.Request.Context(), validation.CommentInput{
		RepoID:  repoIDParam(c),
		Comment: req.Comment,
		Author:  req.Author,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// listVersionSnapshotsHandler godoc
// @Summary List a repository's release snapshots
// @Tags versions
// @Produce json
// @Param owner path string true "Repository owner"
// @Param repo path string true "Repository name"
// @Success 200 {array} models.RepositoryVersionSnapshot
// @Failure 404 {object} ErrorResponse
// @Router /repositories/{owner}/{repo}/versions [get]
func (s *Server) listVersionSnapshotsHandler(c *gin.Context) {
	snapshots, err := s.store.ListVersionSnapshots(c.Request.Context(), repoIDParam(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

// addVersionSnapshotHandler godoc
// @Summary Record a named release snapshot
// @Tags versions
// @Accept json
// @Produce json
// @Param owner path string true "Repository owner"
// @Param repo path string true "Repository name"
// @Param request body AddVersionSnapshotRequest true "Release snapshot"
// @Success 201 {object} models.RepositoryVersionSnapshot
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /repositories/{owner}/{repo}/versions [post]
func (s *Server) addVersionSnapshotHandler(c *gin.Context) {
	var req AddVersionSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST_FORMAT"})
		return
	}

	snapshot, err := s.store.AddVersionSnapshot(c.Request.Context(), models.RepositoryVersionSnapshot{
		RepoID:        repoIDParam(c),
		VersionNumber: req.VersionNumber,
		ReleaseDate:   req.ReleaseDate,
		Description:   req.Description,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}

// listHistoryHandler godoc
// @Summary List a repository's field-change audit trail
// @Tags history
// @Produce json
// @Param owner path string true "Repository owner"
// @Param repo path string true "Repository name"
// @Success 200 {array} models.RepositoryHistoryEntry
// @Failure 404 {object} ErrorResponse
// @Router /repositories/{owner}/{repo}/history [get]
func (s *Server) listHistoryHandler(c *gin.Context) {
	entries, err := s.store.ListHistory(c.Request.Context(), repoIDParam(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
