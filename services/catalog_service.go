package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/realtime"
	"github.com/rabby420bd/tj/repository"
	"go.uber.org/zap"
)

// ProductCache is the listing cache used by CatalogService.
type ProductCache interface {
	Version(ctx context.Context) (int64, error)
	GetProductList(ctx context.Context, version int64, category string) ([]models.Product, bool)
	SetProductList(ctx context.Context, version int64, category string, products []models.Product)
	Invalidate(ctx context.Context) error
}

// ImageStorage stores product images. pkg/aws.ImageBucket satisfies it.
type ImageStorage interface {
	PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, map[string]string, error)
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	PublicURL(key string) string
}

// ProductInput is the admin form payload. StockText uses the "S:5|M:3"
// encoding and is only read when Stock is empty.
type ProductInput struct {
	Name        string         `json:"name" validate:"required,max=200"`
	Description string         `json:"description" validate:"max=5000"`
	Price       float64        `json:"price" validate:"gte=0"`
	OldPrice    *float64       `json:"oldPrice" validate:"omitempty,gte=0"`
	Images      []string       `json:"images" validate:"dive,omitempty,url"`
	Stock       map[string]int `json:"stock" validate:"dive,keys,required,endkeys,gte=0"`
	StockText   string         `json:"stockText"`
	Category    string         `json:"category" validate:"required"`
}

// ImageUpload describes a presigned upload handed to the admin client.
type ImageUpload struct {
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	Key       string            `json:"key"`
	PublicURL string            `json:"public_url"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresIn int64             `json:"expires_in"`
}

const presignExpiry = 15 * time.Minute

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type CatalogService struct {
	store    repository.Store
	cache    ProductCache
	images   ImageStorage
	broker   realtime.Publisher
	logger   *zap.Logger
	validate *validator.Validate
	clock    Clock
}

func NewCatalogService(store repository.Store, cache ProductCache, images ImageStorage, broker realtime.Publisher, logger *zap.Logger) *CatalogService {
	if broker == nil {
		broker = realtime.NopPublisher{}
	}
	return &CatalogService{
		store:    store,
		cache:    cache,
		images:   images,
		broker:   broker,
		logger:   logger,
		validate: validator.New(),
		clock:    NewClock(),
	}
}

func (s *CatalogService) ListProducts(ctx context.Context, category string) ([]models.Product, error) {
	category = strings.TrimSpace(category)
	if category != "" && !models.Category(category).IsValid() {
		return nil, validationError("category", "unknown category")
	}

	var version int64
	cacheable := false
	if s.cache != nil {
		if v, err := s.cache.Version(ctx); err == nil {
			version, cacheable = v, true
			if products, ok := s.cache.GetProductList(ctx, version, category); ok {
				return products, nil
			}
		}
	}

	products, err := s.store.FindProducts(ctx, repository.ProductFilter{Category: models.Category(category)})
	if err != nil {
		s.logger.Error("list products failed", zap.Error(err))
		return nil, internalError("failed to fetch products", err)
	}
	if products == nil {
		products = []models.Product{}
	}
	if cacheable {
		s.cache.SetProductList(ctx, version, category, products)
	}
	return products, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.store.FindProductByID(ctx, strings.TrimSpace(id))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("product not found")
	}
	if err != nil {
		return nil, internalError("failed to fetch product", err)
	}
	return p, nil
}

// SaveProduct creates a product when id is empty and replaces the editable
// fields of an existing one otherwise.
func (s *CatalogService) SaveProduct(ctx context.Context, id string, in ProductInput) (*models.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	in.Images = compactImages(in.Images)
	if len(in.Stock) == 0 && strings.TrimSpace(in.StockText) != "" {
		in.Stock = ParseStock(in.StockText)
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fromValidatorError(err)
	}
	if !models.Category(in.Category).IsValid() {
		return nil, validationError("category", "unknown category")
	}

	now := s.clock.Now()
	product := &models.Product{
		Name:        in.Name,
		Slug:        Slugify(in.Name),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		OldPrice:    in.OldPrice,
		Images:      in.Images,
		Stock:       in.Stock,
		Category:    models.Category(in.Category),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if product.Stock == nil {
		product.Stock = map[string]int{}
	}

	id = strings.TrimSpace(id)
	eventType := "product.created"
	if id == "" {
		product.ID = uuid.NewString()
	} else {
		existing, err := s.store.FindProductByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("product not found")
		}
		if err != nil {
			return nil, internalError("failed to fetch product", err)
		}
		product.ID = existing.ID
		product.CreatedAt = existing.CreatedAt
		eventType = "product.updated"
	}

	if err := s.store.SaveProduct(ctx, product); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, conflictError("product changed while saving, reload and retry", err)
		}
		s.logger.Error("save product failed", zap.String("product_id", product.ID), zap.Error(err))
		return nil, internalError("failed to save product", err)
	}

	s.invalidate(ctx, product.ID)
	s.broker.Publish(realtime.Event{Topic: realtime.TopicProducts, Type: eventType, Key: product.ID, Data: product})
	s.logger.Info("product saved", zap.String("product_id", product.ID), zap.String("event", eventType))
	return product, nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	err := s.store.DeleteProduct(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError("product not found")
	}
	if err != nil {
		s.logger.Error("delete product failed", zap.String("product_id", id), zap.Error(err))
		return internalError("failed to delete product", err)
	}
	s.invalidate(ctx, id)
	s.broker.Publish(realtime.Event{Topic: realtime.TopicProducts, Type: "product.deleted", Key: id})
	return nil
}

// InvalidateListings drops cached product lists.
func (s *CatalogService) InvalidateListings(ctx context.Context) {
	s.invalidate(ctx, "")
}

// Subscriber is the subscribe half of the change feed. realtime.Broker
// satisfies it.
type Subscriber interface {
	Subscribe(topic string, fn func(realtime.Event)) func()
}

const stockInvalidationTimeout = 5 * time.Second

// InvalidateOnStockChange drops cached listings after every stock change
// published on the products topic. Invalidation runs on its own goroutine
// and events that arrive while one is running collapse into a single
// follow-up. The returned function unsubscribes and stops the worker.
func (s *CatalogService) InvalidateOnStockChange(sub Subscriber) func() {
	pending := make(chan struct{}, 1)
	done := make(chan struct{})

	unsubscribe := sub.Subscribe(realtime.TopicProducts, func(evt realtime.Event) {
		if evt.Type != EventStockChanged {
			return
		}
		select {
		case pending <- struct{}{}:
		default:
		}
	})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-pending:
				ctx, cancel := context.WithTimeout(context.Background(), stockInvalidationTimeout)
				s.InvalidateListings(ctx)
				cancel()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}
}

func (s *CatalogService) invalidate(ctx context.Context, productID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Error("product cache invalidation failed", zap.String("product_id", productID), zap.Error(err))
	}
}

// PresignImageUpload returns a short-lived URL the admin client PUTs the
// image to directly.
func (s *CatalogService) PresignImageUpload(ctx context.Context, filename, contentType string) (*ImageUpload, error) {
	if s.images == nil {
		return nil, internalError("image storage is not configured", nil)
	}
	key, err := imageKey(filename, contentType)
	if err != nil {
		return nil, err
	}
	url, headers, err := s.images.PresignPut(ctx, key, contentType, presignExpiry)
	if err != nil {
		s.logger.Error("presign image upload failed", zap.String("key", key), zap.Error(err))
		return nil, internalError("failed to presign upload", err)
	}
	return &ImageUpload{
		UploadURL: url,
		Method:    "PUT",
		Key:       key,
		PublicURL: s.images.PublicURL(key),
		Headers:   headers,
		ExpiresIn: int64(presignExpiry.Seconds()),
	}, nil
}

// UploadImage streams an image through the server and returns its public URL.
func (s *CatalogService) UploadImage(ctx context.Context, filename, contentType string, body io.Reader) (string, error) {
	if s.images == nil {
		return "", internalError("image storage is not configured", nil)
	}
	key, err := imageKey(filename, contentType)
	if err != nil {
		return "", err
	}
	if err := s.images.Upload(ctx, key, contentType, body); err != nil {
		s.logger.Error("image upload failed", zap.String("key", key), zap.Error(err))
		return "", internalError("failed to upload image", err)
	}
	return s.images.PublicURL(key), nil
}

// ParseStock decodes the admin form's "S:5|M:3" stock encoding. Pairs that
// are malformed or negative are skipped.
func ParseStock(text string) map[string]int {
	stock := make(map[string]int)
	for _, pair := range strings.Split(text, "|") {
		parts := strings.Split(pair, ":")
		if len(parts) != 2 {
			continue
		}
		size := strings.TrimSpace(parts[0])
		qty, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if size == "" || err != nil || qty < 0 {
			continue
		}
		stock[size] = qty
	}
	return stock
}

// ProductView is the admin shape of a product. StockText carries the stock
// map in the "S:5|M:3" form the admin editor edits.
type ProductView struct {
	*models.Product
	StockText string `json:"stockText"`
}

func NewProductView(p *models.Product) ProductView {
	return ProductView{Product: p, StockText: FormatStock(p.Stock)}
}

// FormatStock is the inverse of ParseStock. Known sizes come first in
// XS..XXXL order, the rest alphabetically.
func FormatStock(stock map[string]int) string {
	sizes := make([]string, 0, len(stock))
	for size := range stock {
		sizes = append(sizes, size)
	}
	sortSizes(sizes)
	parts := make([]string, 0, len(sizes))
	for _, size := range sizes {
		parts = append(parts, fmt.Sprintf("%s:%d", size, stock[size]))
	}
	return strings.Join(parts, "|")
}

var sizeOrder = map[string]int{"XS": 0, "S": 1, "M": 2, "L": 3, "XL": 4, "XXL": 5, "XXXL": 6}

func sortSizes(sizes []string) {
	rank := func(s string) int {
		if r, ok := sizeOrder[strings.ToUpper(s)]; ok {
			return r
		}
		return len(sizeOrder)
	}
	sort.Slice(sizes, func(i, j int) bool {
		ri, rj := rank(sizes[i]), rank(sizes[j])
		if ri != rj {
			return ri < rj
		}
		return sizes[i] < sizes[j]
	})
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func Slugify(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func compactImages(images []string) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		if img = strings.TrimSpace(img); img != "" {
			out = append(out, img)
		}
	}
	return out
}

func imageKey(filename, contentType string) (string, error) {
	ext, ok := allowedImageTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", validationError("contentType", "only jpeg, png, webp and gif images are allowed")
	}
	base := Slugify(strings.TrimSuffix(path.Base(filename), path.Ext(filename)))
	if base == "" || base == "." {
		base = "image"
	}
	return fmt.Sprintf("products/%s-%s%s", uuid.NewString(), base, ext), nil
}

func fromValidatorError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		return validationError(field, fmt.Sprintf("%s failed on %s", field, fe.Tag()))
	}
	return validationError("", err.Error())
}
