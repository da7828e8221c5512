package httputil

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valyala/fasthttp"
)

// ErrEmptyBody is returned by DecodeJSON for a request without a body
var ErrEmptyBody = errors.New("request body is empty")

// APIResponse is the envelope of every purge-daemon API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// JSONResponse writes resp as JSON with the given status
func JSONResponse(ctx *fasthttp.RequestCtx, resp APIResponse, statusCode int) {
	body, err := json.Marshal(resp)
	if err != nil {
		ctx.Error(`{"success":false,"message":"failed to encode response"}`, fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func JSONError(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	JSONResponse(ctx, APIResponse{Message: message}, statusCode)
}

func JSONSuccess(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	JSONResponse(ctx, APIResponse{Success: true, Message: message}, statusCode)
}

func JSONData(ctx *fasthttp.RequestCtx, data interface{}, statusCode int) {
	JSONResponse(ctx, APIResponse{Success: true, Data: data}, statusCode)
}

// DecodeJSON unmarshals the request body into v
func DecodeJSON(ctx *fasthttp.RequestCtx, v interface{}) error {
	body := ctx.Request.Body()
	if len(body) == 0 {
		return ErrEmptyBody
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
