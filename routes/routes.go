package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/rabby420bd/tj/common/errors"
	"github.com/rabby420bd/tj/controllers"
	"github.com/rabby420bd/tj/metrics"
	"github.com/rabby420bd/tj/middleware"
	awspkg "github.com/rabby420bd/tj/pkg/aws"
	"github.com/rabby420bd/tj/realtime"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// Dependencies is everything the router needs. CloudWatch may be nil.
type Dependencies struct {
	Orders         *controllers.OrderController
	Catalog        *controllers.CatalogController
	Chat           *controllers.ChatController
	Auth           *controllers.AuthController
	Streams        *controllers.StreamController
	AdminVerifier  middleware.TokenVerifier
	RateLimiter    *middleware.RateLimiter
	CloudWatch     *awspkg.MetricsClient
	AllowedOrigins []string
	ServiceName    string
	Logger         *zap.Logger
}

// SetupRoutes installs the middleware chain and every endpoint on r.
func SetupRoutes(r *gin.Engine, d Dependencies) {
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(d.AllowedOrigins))
	r.Use(metrics.Middleware())
	if d.CloudWatch != nil && d.CloudWatch.IsEnabled() {
		r.Use(middleware.CloudWatchMetrics(d.CloudWatch, d.ServiceName))
	}
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware())
	}
	r.Use(apperrors.ErrorMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")

	// Long-lived connections stay outside the request timeout.
	api.GET("/stream", d.Streams.Events(realtime.TopicProducts))
	api.GET("/chat/ws", d.Streams.ChatSocket)

	public := api.Group("")
	public.Use(middleware.Timeout(requestTimeout))
	{
		public.GET("/products", d.Catalog.GetProducts)
		public.GET("/products/:id", d.Catalog.GetProduct)
		public.GET("/delivery-charges", controllers.DeliveryCharges)
		public.POST("/orders", d.Orders.PlaceOrder)
		public.GET("/track", d.Orders.TrackOrders)
		public.POST("/chat/messages", d.Chat.SendCustomerMessage)
		public.GET("/chat/messages/:customerId", d.Chat.GetConversation)
		public.POST("/admin/login", d.Auth.Login)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminAuth(d.AdminVerifier))
	admin.GET("/stream", d.Streams.Events(realtime.Topics...))

	adminAPI := admin.Group("")
	adminAPI.Use(middleware.Timeout(requestTimeout))
	{
		adminAPI.GET("/orders", d.Orders.ListOrders)
		adminAPI.GET("/orders/:orderId", d.Orders.GetOrder)
		adminAPI.PUT("/orders/:orderId/status", d.Orders.UpdateOrderStatus)
		adminAPI.DELETE("/orders/:orderId", d.Orders.DeleteOrder)

		adminAPI.GET("/products/:id", d.Catalog.GetAdminProduct)
		adminAPI.POST("/products", d.Catalog.CreateProduct)
		adminAPI.PUT("/products/:id", d.Catalog.UpdateProduct)
		adminAPI.DELETE("/products/:id", d.Catalog.DeleteProduct)
		adminAPI.POST("/products/images/presign", d.Catalog.PresignImageUpload)
		adminAPI.POST("/products/images", d.Catalog.UploadImage)

		adminAPI.GET("/chats", d.Chat.ListConversations)
		adminAPI.GET("/chats/:customerId", d.Chat.GetConversation)
		adminAPI.POST("/chats/:customerId/messages", d.Chat.SendAdminReply)
		adminAPI.POST("/chats/:customerId/read", d.Chat.MarkRead)
	}
}
