package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/terrashade/terrashade/internal/constants"
	"github.com/terrashade/terrashade/internal/log"
	"github.com/terrashade/terrashade/pkg/responseformat"
)

// Controller represents the run status HTTP controller.
type Controller struct {
	ctx       context.Context
	wg        *sync.WaitGroup
	tracker   *Tracker
	formatter *responseformat.Formatter
	Server    http.Server
	logger    *zap.SugaredLogger
}

// NewController creates a new status controller serving the given tracker.
func NewController(ctx context.Context, wg *sync.WaitGroup, listenAddr string, tracker *Tracker, logger *zap.SugaredLogger) (*Controller, error) {
	if listenAddr == "" {
		logger.Info("status.listen_addr not provided; defaulting to 127.0.0.1:8090 (localhost only)")
		listenAddr = "127.0.0.1:8090"
	}

	ctrl := &Controller{
		ctx:       ctx,
		wg:        wg,
		tracker:   tracker,
		formatter: responseformat.NewFormatter(),
		logger:    logger,
	}

	router := ctrl.setupRouter()
	ctrl.Server.Addr = listenAddr
	ctrl.Server.Handler = router

	return ctrl, nil
}

// StartController starts the status server.
func (c *Controller) StartController() error {
	log.Info("Starting status controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		c.logger.Infof("Status server starting on %s", c.Server.Addr)
		if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("Status server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		log.Info("Shutting down the status server...")
		c.Server.Shutdown(context.Background())
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()

	router.Use(c.loggingMiddleware)

	router.HandleFunc("/status", c.getStatus).Methods("GET")
	router.HandleFunc("/healthz", c.getHealth).Methods("GET")

	return router
}

// getStatus serves the current run progress snapshot.
func (c *Controller) getStatus(w http.ResponseWriter, r *http.Request) {
	if err := c.formatter.WriteResponse(w, r, c.tracker.Snapshot(), nil); err != nil {
		c.logger.Errorf("Error encoding status snapshot: %v", err)
	}
}

// getHealth serves a liveness check.
func (c *Controller) getHealth(w http.ResponseWriter, r *http.Request) {
	c.formatter.WriteResponse(w, r, map[string]string{
		"status":  "ok",
		"version": constants.Version,
	}, nil)
}

// loggingMiddleware logs all requests except for the noisy health endpoint
func (c *Controller) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		if r.RequestURI != "/healthz" {
			c.logger.Debugf("%s %s %s %v", r.Method, r.RequestURI, r.RemoteAddr, time.Since(start))
		}
	})
}
