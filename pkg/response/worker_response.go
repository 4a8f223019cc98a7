// Package response holds the success envelope shared by every API handler.
// Errors are rendered by middleware.ErrorHandler.
package response

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the success envelope.
type Response struct {
	Success bool  `json:"success"`
	Data    any   `json:"data,omitempty"`
	Meta    *Meta `json:"meta,omitempty"`
}

// Meta describes list results.
type Meta struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit,omitempty"`
	HasMore bool `json:"has_more,omitempty"`
}

func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: data})
}

func OKWithMeta(c *fiber.Ctx, data any, meta *Meta) error {
	return c.JSON(Response{Success: true, Data: data, Meta: meta})
}

func Created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(Response{Success: true, Data: data})
}

// Accepted acknowledges work handed off to the background queue.
func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{Success: true, Data: data})
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// ListMeta builds list metadata. A full page (count == limit) signals that
// more rows may follow.
func ListMeta(count, limit int) *Meta {
	m := &Meta{Total: count}
	if limit > 0 {
		m.Limit = limit
		m.HasMore = count >= limit
	}
	return m
}
