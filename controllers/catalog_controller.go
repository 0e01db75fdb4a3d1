package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/services"
)

const maxImageUploadBytes = 10 << 20

type CatalogService interface {
	ListProducts(ctx context.Context, category string) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	SaveProduct(ctx context.Context, id string, in services.ProductInput) (*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	PresignImageUpload(ctx context.Context, filename, contentType string) (*services.ImageUpload, error)
	UploadImage(ctx context.Context, filename, contentType string, body io.Reader) (string, error)
}

type CatalogController struct {
	catalog CatalogService
}

func NewCatalogController(catalog CatalogService) *CatalogController {
	return &CatalogController{catalog: catalog}
}

type PresignRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// GetProducts lists the catalog, optionally filtered by ?category=.
func (cc *CatalogController) GetProducts(c *gin.Context) {
	products, err := cc.catalog.ListProducts(c.Request.Context(), c.Query("category"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (cc *CatalogController) GetProduct(c *gin.Context) {
	product, err := cc.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (cc *CatalogController) CreateProduct(c *gin.Context) {
	cc.saveProduct(c, "", http.StatusCreated)
}

func (cc *CatalogController) UpdateProduct(c *gin.Context) {
	cc.saveProduct(c, c.Param("id"), http.StatusOK)
}

func (cc *CatalogController) saveProduct(c *gin.Context, id string, status int) {
	var in services.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	product, err := cc.catalog.SaveProduct(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, services.NewProductView(product))
}

// GetAdminProduct returns a product with its stock in editor text form.
func (cc *CatalogController) GetAdminProduct(c *gin.Context) {
	product, err := cc.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.NewProductView(product))
}

func (cc *CatalogController) DeleteProduct(c *gin.Context) {
	if err := cc.catalog.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully."})
}

// PresignImageUpload hands the admin client a URL to PUT an image to.
func (cc *CatalogController) PresignImageUpload(c *gin.Context) {
	var req PresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "filename and content_type are required", err)
		return
	}
	upload, err := cc.catalog.PresignImageUpload(c.Request.Context(), req.Filename, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, upload)
}

// UploadImage accepts a multipart "file" field and stores it server-side.
func (cc *CatalogController) UploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required (max 10MB)", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "could not read upload", err)
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	url, err := cc.catalog.UploadImage(c.Request.Context(), fh.Filename, contentType, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}
