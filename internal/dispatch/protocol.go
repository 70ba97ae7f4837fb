// Package dispatch runs price calculations either in a separate execution
// context (an in-process worker pool or a RabbitMQ worker) or synchronously
// in the caller, falling back to the latter whenever the offload fails.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quote-engine/internal/pricing"
)

var (
	ErrOffloadUnavailable = errors.New("offload unavailable")
	ErrVersionMismatch    = errors.New("rate table version mismatch")
	ErrRemoteFailure      = errors.New("remote calculation failed")
)

// Request is the serialized unit of work sent to an executor. The
// configuration is copied at dispatch time; the receiver never shares memory
// with the caller.
type Request struct {
	ID            string                       `json:"id"`
	Scheme        pricing.Scheme               `json:"scheme"`
	RateVersion   string                       `json:"rateVersion"`
	Configuration pricing.ServiceConfiguration `json:"configuration"`
}

// Response carries either a result or an error message that makes the
// caller fall back to the synchronous path.
type Response struct {
	ID          string               `json:"id"`
	RateVersion string               `json:"rateVersion,omitempty"`
	Result      *pricing.PriceResult `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// HandlerFunc executes one serialized request and returns the serialized response.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Handler is the receiving side of the offload protocol. It runs the same
// Calculate the dispatcher uses for its fallback.
type Handler struct {
	table pricing.RateTable
}

func NewHandler(table pricing.RateTable) *Handler {
	return &Handler{table: table}
}

// Serve decodes a Request, prices it and encodes a Response. Protocol errors
// are reported inside the Response; the returned error is only set when the
// response itself cannot be encoded.
func (h *Handler) Serve(ctx context.Context, payload []byte) ([]byte, error) {
	const operation = "dispatch.Handler.Serve"

	var req Request
	resp := Response{RateVersion: h.table.Version()}

	switch err := json.Unmarshal(payload, &req); {
	case err != nil:
		resp.Error = fmt.Sprintf("decode request: %v", err)
	case ctx.Err() != nil:
		resp.ID = req.ID
		resp.Error = ctx.Err().Error()
	case req.Scheme != h.table.Scheme() || req.RateVersion != h.table.Version():
		resp.ID = req.ID
		resp.Error = fmt.Sprintf("worker prices %s/%s, request wants %s/%s",
			h.table.Scheme(), h.table.Version(), req.Scheme, req.RateVersion)
	default:
		resp.ID = req.ID
		result := pricing.Calculate(h.table, req.Configuration)
		resp.Result = &result
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: encode response: %w", operation, err)
	}
	return out, nil
}

func decodeResponse(data []byte, req Request) (pricing.PriceResult, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return pricing.PriceResult{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.ID != req.ID {
		return pricing.PriceResult{}, fmt.Errorf("%w: response %q does not answer request %q",
			ErrRemoteFailure, resp.ID, req.ID)
	}
	if resp.RateVersion != "" && resp.RateVersion != req.RateVersion {
		return pricing.PriceResult{}, fmt.Errorf("%w: got %s, want %s",
			ErrVersionMismatch, resp.RateVersion, req.RateVersion)
	}
	if resp.Error != "" {
		return pricing.PriceResult{}, fmt.Errorf("%w: %s", ErrRemoteFailure, resp.Error)
	}
	if resp.Result == nil {
		return pricing.PriceResult{}, fmt.Errorf("%w: empty result", ErrRemoteFailure)
	}
	return *resp.Result, nil
}
