package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/server"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is a wired authkit server. Build one with NewApp().
type App struct {
	fx     *fx.App
	config *config.Config
	logger *logging.Service
	db     *gorm.DB
	server *server.Server
}

func (a *App) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.fx.Start(ctx)
}

func (a *App) StartTest() error {
	return a.fx.Start(context.Background())
}

func (a *App) Run() {
	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	if a.logger != nil {
		a.logger.Info("received shutdown signal, stopping gracefully", zap.String("signal", sig.String()))
	} else {
		log.Printf("Received signal %v, shutting down gracefully...", sig)
	}

	a.Stop()
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to stop application gracefully", zap.Error(err))
		} else {
			log.Printf("Failed to stop application gracefully: %v", err)
		}
	}
}

func (a *App) StopTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to stop test application", zap.Error(err))
		} else {
			log.Printf("Failed to stop test application: %v", err)
		}
	}
}

func (a *App) Server() *echo.Echo {
	if a.server == nil {
		if a.logger != nil {
			a.logger.Warn("server not initialized through dependency injection")
		}
		return nil
	}
	return a.server.Echo()
}

func (a *App) HTTPServer() *server.Server {
	return a.server
}

func (a *App) Database() *gorm.DB {
	return a.db
}

func (a *App) DB() *gorm.DB {
	return a.db
}

func (a *App) Logger() *logging.Service {
	return a.logger
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) RegisterRoutes(fn func(*echo.Echo)) {
	if server := a.Server(); server != nil {
		fn(server)
	}
}

func (a *App) Get(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	if server := a.Server(); server != nil {
		server.GET(path, handler, middleware...)
	}
}

func (a *App) Post(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	if server := a.Server(); server != nil {
		server.POST(path, handler, middleware...)
	}
}

func (a *App) Put(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	if server := a.Server(); server != nil {
		server.PUT(path, handler, middleware...)
	}
}

func (a *App) Delete(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	if server := a.Server(); server != nil {
		server.DELETE(path, handler, middleware...)
	}
}

func (a *App) Patch(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	if server := a.Server(); server != nil {
		server.PATCH(path, handler, middleware...)
	}
}
