package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/flowscore/internal/delivery"
	"github.com/danmuck/flowscore/internal/logging"
	"github.com/danmuck/flowscore/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusResponse is the /status payload.
type StatusResponse struct {
	ProviderID string          `json:"provider_id"`
	Target     string          `json:"target"`
	Broker     string          `json:"broker"`
	Document   string          `json:"document"`
	Measures   int             `json:"measures"`
	Mode       string          `json:"mode"`
	Delivery   delivery.Status `json:"delivery"`
}

// Router builds the admin routes: /healthz, /status and /metrics.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		observability.RequestLogger(observability.InitLogger("scoreprovider")),
		observability.RequestMetricsMiddleware(s.cfg.ProviderID),
	)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "provider_id": s.cfg.ProviderID})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status())
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Service) status() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := StatusResponse{
		ProviderID: s.cfg.ProviderID,
		Target:     s.target,
		Document:   s.cfg.DocumentPath,
		Mode:       string(s.cfg.Cycle.Mode),
		Delivery:   s.tracker.Snapshot(),
	}
	if s.doc != nil {
		out.Measures = s.doc.Len()
		out.Broker = s.endpoint.String()
	}
	return out
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logging.Infof("provider.Service.serveAdmin listening addr=%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warnf("provider.Service.serveAdmin shutdown err=%v", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
