package server

import (
	stderrors "errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jmgilman/go/errors"
	log "github.com/sirupsen/logrus"
)

// statusFor maps an error code to an HTTP status
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.CodeInvalidInput, errors.CodeSchemaFailed:
		return fiber.StatusBadRequest
	case errors.CodeUnauthorized:
		return fiber.StatusUnauthorized
	case errors.CodeForbidden:
		return fiber.StatusForbidden
	case errors.CodeNotFound:
		return fiber.StatusNotFound
	case errors.CodeAlreadyExists, errors.CodeConflict:
		return fiber.StatusConflict
	case errors.CodeUnavailable:
		return fiber.StatusServiceUnavailable
	case errors.CodeTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// codeFor maps fiber's own errors, such as unknown routes, to error codes
func codeFor(status int) errors.ErrorCode {
	switch status {
	case fiber.StatusBadRequest:
		return errors.CodeInvalidInput
	case fiber.StatusUnauthorized:
		return errors.CodeUnauthorized
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return errors.CodeNotFound
	default:
		return errors.CodeUnknown
	}
}

// errorHandler renders every error returned by a handler as JSON
func errorHandler(c *fiber.Ctx, err error) error {
	code := errors.GetCode(err)

	var fe *fiber.Error
	if code == errors.CodeUnknown && stderrors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errors.ToJSON(errors.New(codeFor(fe.Code), fe.Message)))
	}

	status := statusFor(code)
	if status >= fiber.StatusInternalServerError {
		log.WithFields(log.Fields{
			"method": c.Method(),
			"path":   c.Path(),
			"error":  err,
		}).Error("Request failed")
	}
	return c.Status(status).JSON(errors.ToJSON(err))
}
