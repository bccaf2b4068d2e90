package engine

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(kind, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", kind, id),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func ValidationError(msg string, details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  400,
		Message: msg,
		Details: details,
	}
}

func UpstreamError(msg string, err error) *AppError {
	return &AppError{
		Code:    "UPSTREAM_FAILED",
		Status:  502,
		Message: msg,
		Details: []ErrorDetail{{Message: err.Error()}},
	}
}

// ErrorHandler renders AppErrors in the standard envelope. In production the
// details of unexpected errors are not echoed back.
func ErrorHandler(production bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			return c.Status(code).JSON(ErrorResponse{Error: &AppError{
				Code:    strings.ToUpper(strings.ReplaceAll(utils.StatusMessage(code), " ", "_")),
				Message: fiberErr.Message,
			}})
		}

		var appErr *AppError
		if errors.As(err, &appErr) {
			if production && appErr.Status >= 500 {
				appErr = &AppError{Code: appErr.Code, Status: appErr.Status, Message: appErr.Message}
			}
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}

		log.Printf("ERROR: %v", err)
		resp := &AppError{Code: "INTERNAL_ERROR", Message: "Internal server error"}
		if !production {
			resp.Details = []ErrorDetail{{Message: err.Error()}}
		}
		return c.Status(code).JSON(ErrorResponse{Error: resp})
	}
}
