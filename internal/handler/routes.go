package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"finagent-gateway/internal/config"
	"finagent-gateway/internal/metrics"
	"finagent-gateway/internal/service"
)

// readMethods are the methods answered by the GET routes. HEAD gets the GET
// handler, and net/http drops the body on the way out.
var readMethods = []string{http.MethodGet, http.MethodHead}

// RegisterRoutes wires all route handlers onto the Echo instance.
// Echo matches static routes before the "/*" wildcard, so the bundle can never
// shadow the proxied routes. A trailing slash is stripped before routing, so
// "/health/" reaches the health proxy rather than the entry document.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, static *StaticHandler) {
	e.Pre(echomw.RemoveTrailingSlash())

	e.POST("/api/analyze", proxy.Route(service.AnalyzeRoute))
	e.Match(readMethods, "/health", proxy.Route(service.HealthRoute))

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Match(readMethods, "/*", static.Serve)
}
