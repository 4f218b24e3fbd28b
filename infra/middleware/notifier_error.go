package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"notifier_server/pkg/apperr"
	"notifier_server/pkg/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDLocal  = "request_id"
)

// ErrorResponse is the JSON body for errors that reach the fiber error
// handler. Webhook and OAuth routes write their own bodies and never get here.
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// statusCodes names the fiber errors the management API can produce.
var statusCodes = map[int]string{
	fiber.StatusBadRequest:            apperr.CodeValidationError,
	fiber.StatusUnauthorized:          apperr.CodeUnauthorized,
	fiber.StatusForbidden:             apperr.CodeForbidden,
	fiber.StatusNotFound:              apperr.CodeNotFound,
	fiber.StatusMethodNotAllowed:      "METHOD_NOT_ALLOWED",
	fiber.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	fiber.StatusTooManyRequests:       "RATE_LIMITED",
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDLocal).(string)
	return id
}

func writeError(c *fiber.Ctx, status int, detail ErrorDetail) error {
	return c.Status(status).JSON(ErrorResponse{
		Error:     detail,
		RequestID: requestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ErrorHandler maps AppErrors and fiber errors onto ErrorResponse. Anything
// else is an internal error and its text is not exposed.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code, ok := statusCodes[fiberErr.Code]
			if !ok {
				code = apperr.CodeInternalError
			}
			return writeError(c, fiberErr.Code, ErrorDetail{Code: code, Message: fiberErr.Message})
		}

		appErr := apperr.AsAppError(err)
		log := logger.WithFields(map[string]any{
			"request_id": requestID(c),
			"error_code": appErr.Code,
			"path":       c.Path(),
		}).WithError(appErr.Err)

		detail := ErrorDetail{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
		if !apperr.IsAppError(err) {
			detail.Message = "An unexpected error occurred"
		}
		if appErr.Status >= fiber.StatusInternalServerError {
			log.Error("[HTTP] %s", appErr.Message)
		} else {
			log.Warn("[HTTP] %s", appErr.Message)
		}
		return writeError(c, appErr.Status, detail)
	}
}

// RequestID reuses an incoming X-Request-ID or issues a new one.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(requestIDLocal, id)
		c.Set(requestIDHeader, id)
		return c.Next()
	}
}

// RequestLogger writes one line per request. Graph calls the webhooks often,
// so successful requests log at debug.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			// Run the error handler now so the logged status is the one sent.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		status := c.Response().StatusCode()

		log := logger.WithDuration(time.Since(start)).WithFields(map[string]any{
			"request_id": requestID(c),
			"status":     status,
		})
		switch {
		case status >= fiber.StatusInternalServerError:
			log.Error("[HTTP] %s %s", c.Method(), c.Path())
		case status >= fiber.StatusBadRequest:
			log.Warn("[HTTP] %s %s", c.Method(), c.Path())
		default:
			log.Debug("[HTTP] %s %s", c.Method(), c.Path())
		}
		return nil
	}
}

// Recover turns a panic in a handler into a 500 ErrorResponse.
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.WithFields(map[string]any{
				"request_id": requestID(c),
				"path":       c.Path(),
				"stack":      string(debug.Stack()),
			}).Error("[HTTP] panic: %s", fmt.Sprint(r))
			err = writeError(c, fiber.StatusInternalServerError, ErrorDetail{
				Code:    apperr.CodeInternalError,
				Message: "An unexpected error occurred",
			})
		}()
		return c.Next()
	}
}
