package main

import (
	"github.com/gofiber/fiber/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/notekit/kernelq/pkg/otelhelper"
)

type enqueueRequest struct {
	Code     string `json:"code"      validate:"required"`
	OriginID string `json:"origin_id"`
}

type cancelRequest struct {
	Forceful bool `json:"forceful"`
}

type executionResponse struct {
	RequestID  string `json:"request_id"`
	DocumentID string `json:"document_id,omitempty"`
	OriginID   string `json:"origin_id,omitempty"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

func (a *API) EnqueueExecution(c fiber.Ctx) error {
	documentID := c.Params("id")

	var body enqueueRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := a.validate.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	ctx := c.Context()

	if a.tracer != nil {
		spanCtx, span := otelhelper.StartSpan(ctx, a.tracer, "enqueue_execution",
			attribute.String(otelhelper.DocumentIDKey, documentID),
			attribute.String(otelhelper.OriginIDKey, body.OriginID),
		)
		defer span.End()

		ctx = spanCtx
	}

	req, err := a.coordinator.ExecuteCode(ctx, documentID, body.Code, body.OriginID)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(executionResponse{
		RequestID:  req.ID,
		DocumentID: documentID,
		OriginID:   req.OriginID,
		State:      req.State().String(),
	})
}

func (a *API) GetExecution(c fiber.Ctx) error {
	req, ok := a.coordinator.Request(c.Params("id"))
	if !ok {
		return notFound(c, "execution not found")
	}

	resp := executionResponse{
		RequestID: req.ID,
		OriginID:  req.OriginID,
		State:     req.State().String(),
	}

	if res, done := req.Result(); done && res.Err != nil {
		resp.Error = res.Err.Error()
	}

	return c.JSON(resp)
}

func (a *API) GetOutputs(c fiber.Ctx) error {
	req, ok := a.coordinator.Request(c.Params("id"))
	if !ok {
		return notFound(c, "execution not found")
	}

	return c.JSON(fiber.Map{
		"request_id": req.ID,
		"state":      req.State().String(),
		"outputs":    req.Outputs(),
	})
}

func (a *API) GetPending(c fiber.Ctx) error {
	pending := a.coordinator.PendingCells(c.Params("id"))

	out := make([]executionResponse, 0, len(pending))
	for _, req := range pending {
		out = append(out, executionResponse{
			RequestID: req.ID,
			OriginID:  req.OriginID,
			State:     req.State().String(),
		})
	}

	return c.JSON(fiber.Map{"pending": out})
}

func (a *API) Interrupt(c fiber.Ctx) error {
	if err := a.coordinator.Interrupt(c.Context(), c.Params("id")); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (a *API) Restart(c fiber.Ctx) error {
	if err := a.coordinator.Restart(c.Context(), c.Params("id")); err != nil {
		// The queue was still rebound; report the session failure.
		return serviceUnavailable(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (a *API) Cancel(c fiber.Ctx) error {
	var body cancelRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	a.coordinator.CancelAll(c.Params("id"), body.Forceful)

	return c.SendStatus(fiber.StatusAccepted)
}

func (a *API) CloseDocument(c fiber.Ctx) error {
	a.coordinator.DocumentClosed(c.Context(), c.Params("id"))

	return c.SendStatus(fiber.StatusNoContent)
}
