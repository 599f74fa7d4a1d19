package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleCreateAnnotation(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var request createAnnotationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBindingError(c, err)
		return
	}

	paperID, err := annotations.NewPaperID(request.PaperID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	input := annotations.CreateInput{
		AuthorID: userID,
		PaperID:  paperID,
		Anchor:   *request.Anchor.toAnchor(),
		Text:     request.Text,
	}
	if request.ParentID != nil {
		parentID, err := annotations.NewAnnotationID(*request.ParentID)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		input.ParentID = &parentID
	} else {
		annotationType, err := annotations.ParseAnnotationType(request.Type)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		input.Type = annotationType
	}

	view, err := h.annotationsService.Create(c.Request.Context(), input)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, newAnnotationResponse(view))
}

func (h *httpHandler) handlePaperAnnotations(c *gin.Context) {
	paperID, err := annotations.NewPaperID(c.Param("paperId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	var query paperAnnotationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondBindingError(c, err)
		return
	}

	filter := annotations.PaperFilter{Page: query.Page}
	if query.Type != "" {
		annotationType, err := annotations.ParseAnnotationType(query.Type)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		filter.Type = &annotationType
	}
	if query.IncludeReplies != nil && !*query.IncludeReplies {
		filter.ExcludeReplies = true
	}

	views, err := h.annotationsService.GetPaperAnnotations(c.Request.Context(), paperID, filter)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, newAnnotationResponses(views))
}

func (h *httpHandler) handleUserAnnotations(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var query userAnnotationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondBindingError(c, err)
		return
	}

	page, err := h.annotationsService.GetUserAnnotations(c.Request.Context(), userID, annotations.PageRequest{
		Page:  query.Page,
		Limit: query.Limit,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, userAnnotationsResponse{
		Annotations: newAnnotationResponses(page.Annotations),
		Pagination: paginationResponse{
			Total:      page.Total,
			Page:       page.Page,
			Limit:      page.Limit,
			TotalPages: page.TotalPages,
		},
	})
}

func (h *httpHandler) handleGetAnnotation(c *gin.Context) {
	annotationID, err := annotations.NewAnnotationID(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	view, err := h.annotationsService.GetAnnotation(c.Request.Context(), annotationID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, newAnnotationResponse(view))
}

func (h *httpHandler) handleUpdateAnnotation(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	annotationID, err := annotations.NewAnnotationID(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	var request updateAnnotationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBindingError(c, err)
		return
	}

	view, err := h.annotationsService.Update(c.Request.Context(), annotations.UpdateInput{
		AnnotationID:    annotationID,
		RequesterID:     userID,
		Text:            request.Text,
		Anchor:          request.Anchor.toAnchor(),
		ExpectedVersion: request.Version,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, newAnnotationResponse(view))
}

func (h *httpHandler) handleDeleteAnnotation(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	annotationID, err := annotations.NewAnnotationID(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if err := h.annotationsService.Delete(c.Request.Context(), annotationID, userID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, deleteResponse{ID: annotationID.String(), Deleted: true})
}

func (h *httpHandler) handleCreateReply(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	parentID, err := annotations.NewAnnotationID(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	var request replyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBindingError(c, err)
		return
	}

	view, err := h.annotationsService.CreateReply(c.Request.Context(), annotations.ReplyInput{
		ParentID: parentID,
		AuthorID: userID,
		Text:     request.Text,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondSuccess(c, newAnnotationResponse(view))
}

func (h *httpHandler) handleVersions(c *gin.Context) {
	annotationID, err := annotations.NewAnnotationID(c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	versions, err := h.annotationsService.GetVersions(c.Request.Context(), annotationID)
	if err != nil {
		h.respondServiceErrorWithStatus(c, err, http.StatusBadRequest)
		return
	}
	respondSuccess(c, newVersionResponses(versions))
}
