package controllers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/rabby420bd/tj/common/errors"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/realtime"
	"github.com/rabby420bd/tj/repository"
	"github.com/rabby420bd/tj/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeImages struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (f *fakeImages) PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, map[string]string, error) {
	f.key = key
	return "https://bucket.example/" + key + "?X-Amz-Signature=abc", map[string]string{"Content-Type": contentType}, f.err
}

func (f *fakeImages) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	f.key, f.contentType = key, contentType
	f.body, _ = io.ReadAll(body)
	return f.err
}

func (f *fakeImages) PublicURL(key string) string {
	return "https://cdn.example/" + key
}

func catalogRouter(t *testing.T) (*gin.Engine, *repository.MemoryStore, *fakeImages) {
	t.Helper()
	store := repository.NewMemoryStore()
	images := &fakeImages{}
	svc := services.NewCatalogService(store, nil, images, realtime.NewBroker(), zap.NewNop())
	cc := NewCatalogController(svc)

	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	r.GET("/products", cc.GetProducts)
	r.GET("/products/:id", cc.GetProduct)
	r.GET("/admin/products/:id", cc.GetAdminProduct)
	r.POST("/admin/products", cc.CreateProduct)
	r.PUT("/admin/products/:id", cc.UpdateProduct)
	r.DELETE("/admin/products/:id", cc.DeleteProduct)
	r.POST("/admin/products/images/presign", cc.PresignImageUpload)
	r.POST("/admin/products/images", cc.UploadImage)
	return r, store, images
}

func TestCatalogCRUD(t *testing.T) {
	r, store, _ := catalogRouter(t)

	w := doJSON(r, http.MethodPost, "/admin/products",
		[]byte(`{"name":"Winter Hoodie","price":1450,"category":"Winter","stockText":"M:3|L:0"}`), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, map[string]interface{}{"M": float64(3), "L": float64(0)}, created["stock"])
	assert.Equal(t, "M:3|L:0", created["stockText"])

	w = doJSON(r, http.MethodPut, "/admin/products/"+id,
		[]byte(`{"name":"Winter Hoodie","price":1300,"category":"Winter","stock":{"M":5}}`), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	p, err := store.FindProductByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1300.0, p.Price)
	assert.Equal(t, map[string]int{"M": 5}, p.Stock)

	w = doJSON(r, http.MethodGet, "/products?category=Winter", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = doJSON(r, http.MethodGet, "/products?category=Sandals", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/products/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode(t, w), "stockText")

	w = doJSON(r, http.MethodGet, "/admin/products/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	admin := decode(t, w)
	assert.Equal(t, "M:5", admin["stockText"])
	assert.Equal(t, id, admin["id"])

	w = doJSON(r, http.MethodDelete, "/admin/products/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/products/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(r, http.MethodGet, "/admin/products/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProductValidation(t *testing.T) {
	r, _, _ := catalogRouter(t)

	w := doJSON(r, http.MethodPost, "/admin/products", []byte(`{"price":-5,"category":"Winter"}`), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ValidationError", body["kind"])
	assert.NotNil(t, body["details"])

	w = doJSON(r, http.MethodPost, "/admin/products", []byte(`not json`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresignImageUpload(t *testing.T) {
	r, _, images := catalogRouter(t)

	w := doJSON(r, http.MethodPost, "/admin/products/images/presign",
		[]byte(`{"filename":"Front View.png","content_type":"image/png"}`), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, http.MethodPut, body["method"])
	assert.Contains(t, body["upload_url"], images.key)

	w = doJSON(r, http.MethodPost, "/admin/products/images/presign", []byte(`{"filename":"a.png"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func multipartImage(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	r, _, images := catalogRouter(t)
	data := []byte("\x89PNG fake image bytes")

	body, ct := multipartImage(t, "file", "hoodie.png", "image/png", data)
	req := httptest.NewRequest(http.MethodPost, "/admin/products/images", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "https://cdn.example/"+images.key, decode(t, w)["url"])
	assert.Equal(t, "image/png", images.contentType)
	assert.Equal(t, data, images.body)

	t.Run("missing file field", func(t *testing.T) {
		body, ct := multipartImage(t, "other", "hoodie.png", "image/png", data)
		req := httptest.NewRequest(http.MethodPost, "/admin/products/images", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported type", func(t *testing.T) {
		body, ct := multipartImage(t, "file", "notes.txt", "text/plain", data)
		req := httptest.NewRequest(http.MethodPost, "/admin/products/images", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		images.err = errors.New("s3 down")
		defer func() { images.err = nil }()
		body, ct := multipartImage(t, "file", "hoodie.png", "image/png", data)
		req := httptest.NewRequest(http.MethodPost, "/admin/products/images", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "s3 down")
	})
}

func TestGetProductSeeded(t *testing.T) {
	r, store, _ := catalogRouter(t)
	require.NoError(t, store.SaveProduct(context.Background(), &models.Product{
		ID: "p1", Name: "Panjabi", Price: 2200, Stock: map[string]int{"L": 2}, Category: models.CategoryPanjabi,
	}))

	w := doJSON(r, http.MethodGet, "/products/p1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Panjabi", decode(t, w)["name"])
}
