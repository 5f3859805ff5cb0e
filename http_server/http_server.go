package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/danthegoodman1/icetable/commit"
	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/executor"
	"github.com/danthegoodman1/icetable/fileio"
	"github.com/danthegoodman1/icetable/gologger"
	"github.com/danthegoodman1/icetable/manifest"
	"github.com/danthegoodman1/icetable/partition"
	"github.com/danthegoodman1/icetable/utils"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

var logger = gologger.NewComponentLogger("http")

type (
	HTTPServer struct {
		Echo *echo.Echo
		deps Deps
	}

	// ManifestStore is where manifest entries are appended and listed when no
	// manifest files are given.
	ManifestStore interface {
		AppendManifestEntries(ctx context.Context, entries []manifest.ManifestEntry) error
		ListManifestEntries(ctx context.Context, p partition.Key) ([]manifest.ManifestEntry, error)
	}

	// CommitLister reads back what a checkpoint committed.
	CommitLister interface {
		ListCommits(ctx context.Context, checkpointID int64) ([]commit.Committable, error)
	}

	// Deps are the table and services the handlers work against.
	Deps struct {
		FileIO      fileio.FileIO
		PathFactory *datafile.PathFactory
		Executor    executor.Executor
		Sink        commit.Sink
		// Manifests is nil when no database is configured.
		Manifests ManifestStore
		// BufferSizeBytes is the changelog compaction buffer unless a request overrides it.
		BufferSizeBytes int64
	}

	CustomValidator struct {
		validator *validator.Validate
	}
)

// NewHTTPServer wires the routes without listening.
func NewHTTPServer(deps Deps) *HTTPServer {
	s := &HTTPServer{
		Echo: echo.New(),
		deps: deps,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true

	s.Echo.Use(CreateReqContext)
	s.Echo.Use(LoggerMiddleware)
	s.Echo.Use(middleware.CORS())
	s.Echo.Validator = &CustomValidator{validator: validator.New()}

	// technical - no auth
	s.Echo.GET("/hc", s.HealthCheck)

	changelogGroup := s.Echo.Group("/changelog")
	changelogGroup.POST("/compact", ccHandler(s.CompactChangelogHandler))
	changelogGroup.GET("/segment", ccHandler(s.ReadSegmentHandler))
	changelogGroup.GET("/commits", ccHandler(s.ListCommitsHandler))

	partitionsGroup := s.Echo.Group("/partitions")
	partitionsGroup.POST("/stats", ccHandler(s.PartitionStatsHandler))
	partitionsGroup.POST("/keys", ccHandler(s.PartitionKeysHandler))

	manifestGroup := s.Echo.Group("/manifest")
	manifestGroup.POST("/entries", ccHandler(s.AppendManifestEntriesHandler))
	manifestGroup.POST("/files", ccHandler(s.WriteManifestFileHandler))

	return s
}

func StartHTTPServer(deps Deps) *HTTPServer {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", utils.GetEnvOrDefault("HTTP_PORT", "8080")))
	if err != nil {
		logger.Error().Err(err).Msg("error creating tcp listener, exiting")
		os.Exit(1)
	}
	s := NewHTTPServer(deps)
	s.Echo.Listener = listener
	go func() {
		logger.Info().Msg("starting h2c server on " + listener.Addr().String())
		err := s.Echo.StartH2CServer("", &http2.Server{})
		// stop the broker
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("failed to start h2c server, exiting")
			os.Exit(1)
		}
	}()

	return s
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func ValidateRequest(c echo.Context, s interface{}) error {
	if err := c.Bind(s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(s); err != nil {
		return err
	}
	return nil
}

func (*HTTPServer) HealthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	return err
}

// tablePath confines a client supplied path to the table root.
func (s *HTTPServer) tablePath(p string) string {
	return path.Join(s.deps.PathFactory.Root(), cleanRelative(p))
}

func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			// default handler
			c.Error(err)
		}
		stop := time.Since(start)
		// Log otherwise
		logger := zerolog.Ctx(c.Request().Context())
		req := c.Request()
		res := c.Response()

		p := req.URL.Path
		if p == "" {
			p = "/"
		}

		cl := req.Header.Get(echo.HeaderContentLength)
		if cl == "" {
			cl = "0"
		}
		logger.Debug().Str("method", req.Method).Str("remote_ip", c.RealIP()).Str("req_uri", req.RequestURI).Str("handler_path", c.Path()).Str("path", p).Int("status", res.Status).Int64("latency_ns", int64(stop)).Str("protocol", req.Proto).Str("bytes_in", cl).Int64("bytes_out", res.Size).Msg("req recived")
		return nil
	}
}
