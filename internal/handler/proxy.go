package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"finagent-gateway/internal/model"
	"finagent-gateway/internal/service"
)

// ProxyHandler relays the fixed gateway routes to the analysis backend.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Route returns an Echo handler that forwards requests for route and writes
// the backend's status and JSON body back unmodified. When the backend cannot
// be reached the client gets a 502 envelope carrying route.FailureMessage.
func (h *ProxyHandler) Route(route service.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		in := &model.InboundRequest{
			RequestID:   c.Response().Header().Get(echo.HeaderXRequestID),
			ContentType: req.Header.Get(echo.HeaderContentType),
		}
		if route.ForwardBody {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return readError(err)
			}
			in.Body = body
		}

		resp, err := h.service.Forward(req.Context(), route, in)
		if err != nil {
			h.logger.Error("proxy error",
				"err", err,
				"route", route.Name,
				"path", req.URL.Path,
			)
			return c.JSON(http.StatusBadGateway, model.ErrorEnvelope{
				Error:   "Bad Gateway",
				Message: route.FailureMessage,
			})
		}

		return c.JSONBlob(resp.StatusCode, resp.Body)
	}
}

// readError keeps echo's own errors (such as the BodyLimit 413) and reports
// anything else as a bad request.
func readError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body").SetInternal(err)
}
