package api

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"fg-go/internal/fg"
)

// Result is the envelope of every API response.
type Result struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the stable error kind and a human-readable message.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const kindBadRequest = "bad_request"

var kindStatus = map[string]int{
	"not_found":             http.StatusNotFound,
	"duplicate_target":      http.StatusConflict,
	"path_not_found":        http.StatusBadRequest,
	"invalid_path":          http.StatusBadRequest,
	"operation_in_progress": http.StatusConflict,
	"invalid_state":         http.StatusConflict,
	"no_snapshot":           http.StatusConflict,
	"snapshot_not_found":    http.StatusGone,
	"snapshot":              http.StatusInternalServerError,
	"replication":           http.StatusInternalServerError,
	kindBadRequest:          http.StatusBadRequest,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind string) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func ok(c fiber.Ctx, data any) error {
	return c.JSON(Result{OK: true, Data: data})
}

func fail(c fiber.Ctx, err error) error {
	kind := fg.KindOf(err)
	return c.Status(StatusFor(kind)).JSON(Result{Error: &ErrorBody{Kind: kind, Message: err.Error()}})
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(http.StatusBadRequest).JSON(Result{Error: &ErrorBody{Kind: kindBadRequest, Message: msg}})
}

// errorHandler renders errors that escape handlers, such as unknown routes.
func errorHandler(c fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		kind := "internal"
		switch fe.Code {
		case http.StatusNotFound:
			kind = "not_found"
		case http.StatusMethodNotAllowed, http.StatusBadRequest:
			kind = kindBadRequest
		}
		return c.Status(fe.Code).JSON(Result{Error: &ErrorBody{Kind: kind, Message: fe.Message}})
	}
	return fail(c, err)
}
