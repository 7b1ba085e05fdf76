// Package httpapi exposes the pipeline's one public HTTP surface: the
// push-mode ingestion endpoint, plus health and Prometheus metrics routes,
// grounded on api/rest.go's Echo handler style
// and tracing/metrics_handler.go's MetricsHandler.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jaces.io/core/internal/perr"
	"jaces.io/core/internal/push"
	"jaces.io/core/internal/queue"
)

// New builds the Echo server: one device-token-authenticated push route,
// /v1/push/:source/:stream, a manual sync route, /v1/sync/:stream, plus
// /healthz and /metrics.
func New(adapter *push.Adapter, q *queue.Queue, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	e.POST("/v1/push/:source/:stream", pushHandler(adapter, q))
	e.POST("/v1/sync/:stream", manualSyncHandler(q))

	return e
}

type pushRequest struct {
	DeviceID string                   `json:"device_id"`
	Records  []map[string]interface{} `json:"records"`
}

type pushResponse struct {
	ObjectKey string `json:"object_key"`
}

func pushHandler(adapter *push.Adapter, q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		source := c.Param("source")
		stream := c.Param("stream")
		token := c.Request().Header.Get("X-Device-Token")

		var req pushRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}

		deviceID := c.Request().Header.Get("X-Device-ID")
		if deviceID == "" {
			deviceID = req.DeviceID
		}

		key, err := adapter.AppendRawBatch(c.Request().Context(), source, stream, token, deviceID, req.Records)
		if err != nil {
			return echo.NewHTTPError(statusFor(err), err.Error())
		}

		task := queue.NewTask(queue.KindProcessStreamBatch, map[string]any{
			"object_key":  key,
			"stream_name": stream,
		})
		if err := q.Enqueue(c.Request().Context(), task); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "batch landed but could not be queued for processing")
		}

		return c.JSON(http.StatusAccepted, pushResponse{ObjectKey: key})
	}
}

type syncTriggerResponse struct {
	TaskID string `json:"task_id"`
}

// manualSyncHandler lets an operator force an immediate sync of a stream
// outside its schedule, the same task kind and kwarg shape
// internal/scheduler's periodic check enqueues, with manual=true so
// cmd/pipeline/dispatch.go's handler bypasses the schedule/push-mode gate.
func manualSyncHandler(q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		stream := c.Param("stream")

		task := queue.NewTask(queue.KindSyncStream, map[string]any{
			"stream_name": stream,
			"manual":      true,
		})
		if err := q.Enqueue(c.Request().Context(), task); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "could not queue manual sync")
		}

		return c.JSON(http.StatusAccepted, syncTriggerResponse{TaskID: task.ID})
	}
}

// statusFor maps a pipeline error's class onto an HTTP status, the way
// api/jwt.go's handlers translate auth failures into 401s.
func statusFor(err error) int {
	switch perr.ClassOf(err) {
	case perr.KindNotFound:
		return http.StatusNotFound
	case perr.KindAuth:
		return http.StatusUnauthorized
	case perr.KindValidation:
		return http.StatusBadRequest
	case perr.KindConflict:
		return http.StatusConflict
	case perr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
