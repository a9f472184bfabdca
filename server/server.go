package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
)

// TLSFiles switches Start to HTTPS when both paths are set.
type TLSFiles struct {
	CertFile string
	KeyFile  string
}

type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger *logging.Service
	tls    *TLSFiles
}

// ErrorResponse is the JSON body of every error the server writes.
type ErrorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message,omitempty"`
	RequiresReauth bool   `json:"requiresReauth,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

func New(cfg *config.Config, logger *logging.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		cfg:    cfg,
		logger: logger.Named("server"),
	}

	configureTrustedProxies(e, cfg.Server.TrustedProxies, s.logger)
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(logging.RequestLogger(logger.Named("http"), "/healthz", "/metrics"))

	return s
}

func (s *Server) SetTLS(files *TLSFiles) {
	s.tls = files
}

func (s *Server) Address() string {
	return fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start blocks until the server stops. A graceful shutdown is not an error.
func (s *Server) Start() error {
	addr := s.Address()
	for _, r := range s.echo.Routes() {
		s.logger.Debug("route registered",
			zap.String("method", r.Method),
			zap.String("path", r.Path),
			zap.String("handler", shortenHandlerName(r.Name)))
	}

	var err error
	if s.tls != nil && s.tls.CertFile != "" && s.tls.KeyFile != "" {
		s.logger.Info("starting authkit server with TLS", zap.String("addr", addr))
		err = s.echo.StartTLS(addr, s.tls.CertFile, s.tls.KeyFile)
	} else {
		s.logger.Info("starting authkit server", zap.String("addr", addr))
		err = s.echo.Start(addr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down authkit server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) Get(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.GET(path, handler, m...)
}

func (s *Server) Post(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.POST(path, handler, m...)
}

func (s *Server) Put(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.PUT(path, handler, m...)
}

func (s *Server) Delete(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.DELETE(path, handler, m...)
}

func (s *Server) Patch(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.PATCH(path, handler, m...)
}

func (s *Server) Group(prefix string, m ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, m...)
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// handleError renders echo errors as ErrorResponse. Every 401 tells the client
// to authenticate again; internal causes are only shown outside production.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		s.logger.Error("unhandled error", zap.String("path", c.Request().URL.Path), zap.Error(err))
		he = echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}

	body := ErrorResponse{
		Error:          errorCode(he.Code),
		Message:        fmt.Sprint(he.Message),
		RequiresReauth: he.Code == http.StatusUnauthorized,
	}
	if !s.cfg.IsProduction() && he.Internal != nil {
		body.Detail = he.Internal.Error()
	}
	if he.Code >= http.StatusInternalServerError && s.cfg.IsProduction() {
		body.Message = http.StatusText(he.Code)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(he.Code)
	} else {
		err = c.JSON(he.Code, body)
	}
	if err != nil {
		s.logger.Error("failed to write error response", zap.Error(err))
	}
}

func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// configureTrustedProxies reads client IPs from X-Forwarded-For only when the
// hop is a configured proxy. Without valid proxies the socket address wins.
func configureTrustedProxies(e *echo.Echo, proxies []string, logger *logging.Service) {
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	trusted := 0

	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			if ip := net.ParseIP(p); ip != nil {
				if ip.To4() != nil {
					p += "/32"
				} else {
					p += "/128"
				}
			}
		}
		_, network, err := net.ParseCIDR(p)
		if err != nil {
			logger.Warn("ignoring invalid trusted proxy", zap.String("proxy", p))
			continue
		}
		opts = append(opts, echo.TrustIPRange(network))
		trusted++
	}

	if trusted == 0 {
		e.IPExtractor = echo.ExtractIPDirect()
		return
	}
	e.IPExtractor = echo.ExtractIPFromXFFHeader(opts...)
	logger.Info("trusted proxies configured", zap.Int("count", trusted))
}

func shortenHandlerName(name string) string {
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > 80 {
		return name[:77] + "..."
	}
	return name
}
