package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
)

type createAnnotationRequest struct {
	PaperID  string         `json:"paperId" binding:"required,strNotEmpty,max=190"`
	Type     string         `json:"type" binding:"required_without=ParentID,annotationtype"`
	Anchor   *anchorRequest `json:"anchor" binding:"required"`
	Text     string         `json:"text" binding:"required,strNotEmpty,max=5000"`
	ParentID *string        `json:"parentId" binding:"omitempty,strNotEmpty,max=190"`
}

type updateAnnotationRequest struct {
	Text    *string        `json:"text" binding:"omitempty,strNotEmpty,max=5000"`
	Anchor  *anchorRequest `json:"anchor"`
	Version *int64         `json:"version" binding:"omitempty,min=1"`
}

// anchorRequest is the wire form of an anchor. The bounding box must be present; range checks
// happen in annotations.Anchor.Validate.
type anchorRequest struct {
	Page         int                      `json:"page"`
	Coordinates  *annotations.Coordinates `json:"coordinates" binding:"required"`
	TextRange    *annotations.TextRange   `json:"textRange"`
	SelectedText string                   `json:"selectedText"`
	Points       []annotations.Point      `json:"points"`
}

func (r *anchorRequest) toAnchor() *annotations.Anchor {
	if r == nil {
		return nil
	}
	anchor := annotations.Anchor{
		Page:         r.Page,
		TextRange:    r.TextRange,
		SelectedText: r.SelectedText,
		Points:       r.Points,
	}
	if r.Coordinates != nil {
		anchor.Coordinates = *r.Coordinates
	}
	return &anchor
}

type replyRequest struct {
	Text string `json:"text" binding:"required,strNotEmpty,max=5000"`
}

type paperAnnotationsQuery struct {
	Page           *int   `form:"page" binding:"omitempty,min=1"`
	Type           string `form:"type" binding:"annotationtype"`
	IncludeReplies *bool  `form:"includeReplies"`
}

type userAnnotationsQuery struct {
	Page  int `form:"page" binding:"omitempty,min=1"`
	Limit int `form:"limit" binding:"omitempty,min=1"`
}

type authorResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type parentResponse struct {
	ID     string         `json:"id"`
	Text   string         `json:"text"`
	Author authorResponse `json:"author"`
}

type versionResponse struct {
	ID           string             `json:"id"`
	AnnotationID string             `json:"annotationId"`
	Version      int64              `json:"version"`
	Text         string             `json:"text"`
	Anchor       annotations.Anchor `json:"anchor"`
	ChangedBy    authorResponse     `json:"changedBy"`
	Timestamp    time.Time          `json:"timestamp"`
}

type annotationResponse struct {
	ID         string               `json:"id"`
	PaperID    string               `json:"paperId"`
	PaperTitle string               `json:"paperTitle,omitempty"`
	Author     authorResponse       `json:"author"`
	Type       string               `json:"type"`
	Anchor     annotations.Anchor   `json:"anchor"`
	Text       string               `json:"text"`
	Version    int64                `json:"version"`
	ParentID   *string              `json:"parentId"`
	Parent     *parentResponse      `json:"parent,omitempty"`
	IsDeleted  bool                 `json:"isDeleted"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
	Replies    []annotationResponse `json:"replies"`
	Versions   []versionResponse    `json:"versions"`
}

type paginationResponse struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

type userAnnotationsResponse struct {
	Annotations []annotationResponse `json:"annotations"`
	Pagination  paginationResponse   `json:"pagination"`
}

type deleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func newAuthorResponse(author annotations.AuthorSummary) authorResponse {
	return authorResponse{
		ID:          author.ID,
		DisplayName: author.DisplayName,
		Email:       author.Email,
		AvatarURL:   author.AvatarURL,
	}
}

func newVersionResponse(version annotations.VersionView) versionResponse {
	return versionResponse{
		ID:           version.ID,
		AnnotationID: version.AnnotationID,
		Version:      version.Version,
		Text:         version.Text,
		Anchor:       version.Anchor,
		ChangedBy:    newAuthorResponse(version.ChangedBy),
		Timestamp:    version.Timestamp,
	}
}

func newVersionResponses(versions []annotations.VersionView) []versionResponse {
	out := make([]versionResponse, 0, len(versions))
	for _, version := range versions {
		out = append(out, newVersionResponse(version))
	}
	return out
}

func newAnnotationResponse(view annotations.AnnotationView) annotationResponse {
	response := annotationResponse{
		ID:         view.ID,
		PaperID:    view.PaperID,
		PaperTitle: view.PaperTitle,
		Author:     newAuthorResponse(view.Author),
		Type:       string(view.Type),
		Anchor:     view.Anchor,
		Text:       view.Text,
		Version:    view.Version,
		ParentID:   view.ParentID,
		IsDeleted:  view.IsDeleted,
		CreatedAt:  view.CreatedAt,
		UpdatedAt:  view.UpdatedAt,
		Replies:    newAnnotationResponses(view.Replies),
		Versions:   newVersionResponses(view.Versions),
	}
	if view.Parent != nil {
		response.Parent = &parentResponse{
			ID:     view.Parent.ID,
			Text:   view.Parent.Text,
			Author: newAuthorResponse(view.Parent.Author),
		}
	}
	return response
}

func newAnnotationResponses(views []annotations.AnnotationView) []annotationResponse {
	out := make([]annotationResponse, 0, len(views))
	for _, view := range views {
		out = append(out, newAnnotationResponse(view))
	}
	return out
}
