package httpapi

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucaspecout/ope-protec/internal/risks"
)

var validate = validator.New()

// sourceParams holds the path parameter of the per-source endpoint.
type sourceParams struct {
	Source string `validate:"required,oneof=weather river road-disruptions traffic-forecast risk-registry news air-quality rail water-restrictions power-margin"`
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *risks.Service) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/risks", func(c *fiber.Ctx) error {
		snap := service.Get(c.Context(), c.QueryBool("refresh"))
		return c.JSON(snap)
	})

	v1.Get("/risks/:source", func(c *fiber.Ctx) error {
		params := sourceParams{Source: c.Params("source")}
		if err := validate.Struct(params); err != nil {
			return fiber.NewError(fiber.StatusNotFound, "unknown source")
		}
		payload, ok := service.Source(c.Context(), params.Source, c.QueryBool("refresh"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "unknown source")
		}
		return c.JSON(payload)
	})

	v1.Get("/rivers/geojson", func(c *fiber.Ctx) error {
		collection := service.RiversGeoJSON(c.Context(), c.QueryBool("refresh"))
		body, err := json.Marshal(collection)
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(body)
	})

	v1.Get("/boundary", func(c *fiber.Ctx) error {
		return c.JSON(service.Boundary(c.Context()))
	})
}
