package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/3Eeeecho/go-uploadpipe/internal/config"
	"github.com/3Eeeecho/go-uploadpipe/internal/repositories"
	"github.com/3Eeeecho/go-uploadpipe/internal/services/uploader"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRouterServesHealthAndSwaggerSpec(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := uploader.NewManager(&config.Config{}, repositories.NewMemoryRecordRepository(), nil, false)
	r := InitRouter(m)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")

	// 文档路由必须能拿到已注册的接口定义，而不是空响应
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"swagger": "2.0"`)
	assert.Contains(t, w.Body.String(), "/api/v1/uploads")
}
