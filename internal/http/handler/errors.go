package handler

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/go-playground/validator/v10"
	"github.com/sifan077/shortlink/internal/app/service"
	"go.uber.org/zap"
)

// writeServiceError maps service errors onto status codes. Storage failures
// are logged and answered with a generic message.
func writeServiceError(c *fiber.Ctx, logger *zap.Logger, op string, err error) error {
	status, msg := fiber.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrUnauthenticated):
		status, msg = fiber.StatusUnauthorized, "authentication required"
	case errors.Is(err, service.ErrCodeConflict):
		status, msg = fiber.StatusConflict, "short code already in use"
	case errors.Is(err, service.ErrNotFound):
		status, msg = fiber.StatusNotFound, "short link not found"
	default:
		logger.Error(op+" failed", zap.Error(err), zap.String("path", c.Path()))
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// codeParam returns the decoded :code segment. Fiber leaves path parameters
// percent-encoded, while codes are stored as submitted.
func codeParam(c *fiber.Ctx) (string, error) {
	code, err := url.PathUnescape(c.Params("code"))
	if err != nil {
		return "", service.ErrNotFound
	}
	return code, nil
}

func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fe.Field()+" must be at most "+fe.Param()+" characters")
		case "excludesall":
			msgs = append(msgs, fe.Field()+" must not contain any of "+fe.Param())
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return msgs
}
