package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
	"github.com/MarcoPoloResearchLab/margin/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/margin/backend/internal/database"
	"github.com/MarcoPoloResearchLab/margin/backend/internal/papers"
	"github.com/MarcoPoloResearchLab/margin/backend/internal/server"
	"github.com/MarcoPoloResearchLab/margin/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "app_session"
	sessionIssuer        = "tauth"
	jsonContentType      = "application/json"
)

type responseEnvelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type annotationPayload struct {
	ID       string  `json:"id"`
	Version  int64   `json:"version"`
	Text     string  `json:"text"`
	ParentID *string `json:"parentId"`
	Author   struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Replies  []annotationPayload `json:"replies"`
	Versions []struct {
		Version int64  `json:"version"`
		Text    string `json:"text"`
	} `json:"versions"`
}

type client struct {
	t       *testing.T
	baseURL string
	cookie  *http.Cookie
}

func (c client) call(method, path string, body any) (int, responseEnvelope) {
	c.t.Helper()
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		require.NoError(c.t, err)
	}
	request, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(encoded))
	require.NoError(c.t, err)
	request.Header.Set("Content-Type", jsonContentType)
	if c.cookie != nil {
		request.AddCookie(c.cookie)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(c.t, err)
	defer response.Body.Close()

	var envelope responseEnvelope
	require.NoError(c.t, json.NewDecoder(response.Body).Decode(&envelope))
	return response.StatusCode, envelope
}

func TestCollaborativeAnnotationFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(testContext.TempDir(), "margin.db"),
	}, zap.NewNop())
	require.NoError(testContext, err)
	sqlDB, err := db.DB()
	require.NoError(testContext, err)
	testContext.Cleanup(func() {
		_ = sqlDB.Close()
	})
	require.NoError(testContext, db.Create(&papers.Paper{PaperID: "paper-42", Title: "Attention Is All You Need"}).Error)

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: zap.NewNop()})
	require.NoError(testContext, err)
	paperService, err := papers.NewService(db)
	require.NoError(testContext, err)
	dispatcher := server.NewRealtimeDispatcher()
	annotationService, err := annotations.NewService(annotations.ServiceConfig{
		Database:   db,
		IDProvider: annotations.NewUUIDProvider(),
		Logger:     zap.NewNop(),
		Authors:    userService,
		Papers:     paperService,
		Events:     dispatcher,
	})
	require.NoError(testContext, err)
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    sessionCookieName,
	})
	require.NoError(testContext, err)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator:   sessionValidator,
		UserResolver:       userService,
		AnnotationsService: annotationService,
		Realtime:           dispatcher,
		Logger:             zap.NewNop(),
	})
	require.NoError(testContext, err)

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	now := time.Now()
	owner := client{t: testContext, baseURL: testServer.URL, cookie: &http.Cookie{
		Name:  sessionCookieName,
		Value: mustMintSessionToken(testContext, "google:owner", "Grace Hopper", now),
	}}
	reviewer := client{t: testContext, baseURL: testServer.URL, cookie: &http.Cookie{
		Name:  sessionCookieName,
		Value: mustMintSessionToken(testContext, "google:reviewer", "Edsger Dijkstra", now),
	}}
	anonymous := client{t: testContext, baseURL: testServer.URL}

	status, envelope := anonymous.call(http.MethodPost, "/annotations", map[string]any{})
	require.Equal(testContext, http.StatusUnauthorized, status)

	status, envelope = owner.call(http.MethodPost, "/annotations", map[string]any{
		"paperId": "paper-42",
		"type":    "NOTE",
		"text":    "Scaled dot-product attention is defined here.",
		"anchor": map[string]any{
			"page":        3,
			"coordinates": map[string]any{"x": 72, "y": 140, "width": 300, "height": 40},
		},
	})
	require.Equal(testContext, http.StatusOK, status)
	require.True(testContext, envelope.Success)
	var created annotationPayload
	require.NoError(testContext, json.Unmarshal(envelope.Data, &created))
	require.Equal(testContext, "owner", created.Author.ID)
	require.Equal(testContext, "Grace Hopper", created.Author.DisplayName)

	status, envelope = owner.call(http.MethodPut, "/annotations/"+created.ID, map[string]any{
		"text":    "Scaled dot-product attention, equation 1.",
		"version": created.Version,
	})
	require.Equal(testContext, http.StatusOK, status)

	status, envelope = owner.call(http.MethodPut, "/annotations/"+created.ID, map[string]any{
		"text":    "A concurrent edit from another tab.",
		"version": created.Version,
	})
	require.Equal(testContext, http.StatusConflict, status)
	require.Equal(testContext, "annotations.update.conflict", envelope.Code)

	status, envelope = reviewer.call(http.MethodDelete, "/annotations/"+created.ID, nil)
	require.Equal(testContext, http.StatusBadRequest, status)
	require.Equal(testContext, "annotations.delete.forbidden", envelope.Code)

	status, _ = reviewer.call(http.MethodPost, "/annotations/"+created.ID+"/reply", map[string]any{
		"text": "Worth comparing with additive attention.",
	})
	require.Equal(testContext, http.StatusOK, status)

	status, envelope = anonymous.call(http.MethodGet, "/annotations/paper/paper-42", nil)
	require.Equal(testContext, http.StatusOK, status)
	var listing []annotationPayload
	require.NoError(testContext, json.Unmarshal(envelope.Data, &listing))
	require.Len(testContext, listing, 1)
	require.Equal(testContext, int64(2), listing[0].Version)
	require.Equal(testContext, "Scaled dot-product attention, equation 1.", listing[0].Text)
	require.Len(testContext, listing[0].Versions, 1)
	require.Equal(testContext, "Scaled dot-product attention is defined here.", listing[0].Versions[0].Text)
	require.Len(testContext, listing[0].Replies, 1)
	require.Equal(testContext, "reviewer", listing[0].Replies[0].Author.ID)

	status, envelope = reviewer.call(http.MethodGet, "/annotations/user", nil)
	require.Equal(testContext, http.StatusOK, status)
	var reviewerPage struct {
		Annotations []annotationPayload `json:"annotations"`
		Pagination  struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(testContext, json.Unmarshal(envelope.Data, &reviewerPage))
	require.Equal(testContext, int64(1), reviewerPage.Pagination.Total)

	status, _ = owner.call(http.MethodDelete, "/annotations/"+created.ID, nil)
	require.Equal(testContext, http.StatusOK, status)

	status, envelope = reviewer.call(http.MethodGet, "/annotations/user", nil)
	require.Equal(testContext, http.StatusOK, status)
	require.NoError(testContext, json.Unmarshal(envelope.Data, &reviewerPage))
	require.Zero(testContext, reviewerPage.Pagination.Total)
	require.Empty(testContext, reviewerPage.Annotations)
}

func mustMintSessionToken(testContext *testing.T, userID, displayName string, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:          userID,
		UserDisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(sessionSigningSecret))
	require.NoError(testContext, err)
	return signed
}
