package server

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fibercache "github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/MShaffar19/transitland-datastore/feeds"
	"github.com/MShaffar19/transitland-datastore/fetchinfo"
	"github.com/MShaffar19/transitland-datastore/models"
)

// FeedStore is the feed registry the API reads and writes
type FeedStore interface {
	ListFeeds(ctx context.Context, q *feeds.IndexQuery) ([]models.Feed, error)
	GetFeed(ctx context.Context, onestopId string) (*models.Feed, error)
	AllFeeds(ctx context.Context) ([]models.Feed, error)
	OperatorsInFeeds(ctx context.Context, feedIds []int64) ([]models.OperatorInFeed, error)
	FeedVersions(ctx context.Context, feedId int64) ([]models.FeedVersion, error)
	CreateFeed(ctx context.Context, f *models.Feed) error
	UpdateFeed(ctx context.Context, onestopId string, f *models.Feed) error
	DeleteFeed(ctx context.Context, onestopId string) error
}

// FetchInfo answers fetch info requests
type FetchInfo interface {
	GetOrEnqueue(ctx context.Context, url string) (fetchinfo.Record, int, error)
}

type ServerConfig struct {
	// The feed registry
	Store FeedStore

	// Fetch info coordinator
	FetchInfo FetchInfo

	// Bearer token required for writes. Empty rejects every write.
	ApiToken string

	// Comma separated list of allowed CORS origins
	CorsOrigins string

	// How long the DMFR export is cached. Zero disables caching.
	DMFRCacheExpiration time.Duration

	// Optional readiness check for /healthz
	Ready func(ctx context.Context) error
}

// Returns a fiber.App serving the datastore API
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "transitland-datastore",
		ErrorHandler: errorHandler,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		// start timer
		start := time.Now()

		// next routes
		err := c.Next()

		log.WithFields(log.Fields{
			"method":     c.Method(),
			"route":      c.Route().Path,
			"status":     c.Response().StatusCode(),
			"latency":    time.Since(start),
			"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	origins := config.CorsOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Authorization, Content-Type",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if config.Ready != nil {
			if err := config.Ready(c.UserContext()); err != nil {
				return errors.Wrap(err, errors.CodeUnavailable, "not ready")
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	h := &handlers{store: config.Store, fetchInfo: config.FetchInfo}
	protected := keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + fiber.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if config.ApiToken == "" || subtle.ConstantTimeCompare([]byte(key), []byte(config.ApiToken)) != 1 {
				return false, keyauth.ErrMissingOrMalformedAPIKey
			}
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return errors.Wrap(err, errors.CodeUnauthorized, "invalid or missing API token")
		},
	})

	api := app.Group("/api/v1/feeds")
	api.Get("/", h.index)
	api.Get("/fetch_info", h.fetchInfoHandler)

	dmfr := []fiber.Handler{h.dmfr}
	if config.DMFRCacheExpiration > 0 {
		dmfr = append([]fiber.Handler{fibercache.New(fibercache.Config{
			Expiration:   config.DMFRCacheExpiration,
			CacheHeader:  "X-Cache",
			KeyGenerator: func(c *fiber.Ctx) string { return c.Path() },
		})}, dmfr...)
	}
	api.Get("/dmfr", dmfr...)

	api.Post("/", protected, h.create)
	api.Get("/:onestop_id", h.show)
	api.Put("/:onestop_id", protected, h.update)
	api.Delete("/:onestop_id", protected, h.destroy)
	api.Get("/:onestop_id/download_latest_feed_version", h.downloadLatestFeedVersion)
	api.Get("/:onestop_id/feed_version_update_statistics", h.feedVersionUpdateStatistics)

	return app
}
