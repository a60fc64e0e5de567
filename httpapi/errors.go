package httpapi

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	authsync "github.com/goliatone/go-auth-sync"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

type errorBody struct {
	Error    string            `json:"error"`
	TextCode string            `json:"text_code,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// ErrorHandler renders rich errors as JSON with a status derived from their
// category.
func ErrorHandler(logger authsync.Logger) router.ErrorHandler {
	_, logger = authsync.ResolveLogger("httpapi", nil, logger)

	return func(ctx router.Context, err error) error {
		status, body := render(logger, err)
		return ctx.JSON(status, body)
	}
}

// FiberErrorHandler covers errors raised by fiber itself, unknown routes
// or oversized bodies, so they share the JSON shape of handler errors.
func FiberErrorHandler(logger authsync.Logger) fiber.ErrorHandler {
	_, logger = authsync.ResolveLogger("httpapi", nil, logger)

	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			err = errors.New(fiberErr.Message, errors.HTTPStatusToCategory(fiberErr.Code)).
				WithCode(fiberErr.Code).
				WithTextCode(errors.HTTPStatusToTextCode(fiberErr.Code))
		}
		status, body := render(logger, err)
		return c.Status(status).JSON(body)
	}
}

func render(logger authsync.Logger, err error) (int, errorBody) {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	status := statusFor(richErr)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"error", richErr.Message,
			"category", richErr.Category,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	} else {
		logger.Debug("request rejected",
			"error", richErr.Message,
			"text_code", richErr.TextCode,
		)
	}

	body := errorBody{
		Error:    richErr.Message,
		TextCode: richErr.TextCode,
	}
	if len(richErr.ValidationErrors) > 0 {
		body.Fields = make(map[string]string, len(richErr.ValidationErrors))
		for _, fe := range richErr.ValidationErrors {
			body.Fields[fe.Field] = fe.Message
		}
	}
	return status, body
}

func statusFor(err *errors.Error) int {
	switch err.Category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case errors.CategoryExternal:
		return http.StatusBadGateway
	}
	if err.Code >= 400 && err.Code < 600 {
		return err.Code
	}
	return http.StatusInternalServerError
}
