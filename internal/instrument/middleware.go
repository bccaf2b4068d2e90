package instrument

import (
	"github.com/gofiber/fiber/v2"
)

// Middleware returns a Fiber middleware that injects the instrumenter into the
// request context and wraps each request in a root HTTP span.
func Middleware(inst Instrumenter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if inst == nil {
			return c.Next()
		}

		ctx := WithInstrumenter(c.UserContext(), inst)
		ctx, span := inst.StartSpan(ctx, "http", "handler", "request")
		span.SetMetadata("method", c.Method())
		span.SetMetadata("path", c.Path())
		c.SetUserContext(ctx)

		if id := span.TraceID(); id != "" {
			c.Set("X-Trace-ID", id)
		}

		err := c.Next()

		statusCode := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				statusCode = fe.Code
			} else if statusCode < 400 {
				statusCode = fiber.StatusInternalServerError
			}
		}
		span.SetMetadata("status_code", statusCode)
		if statusCode >= 400 {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()

		return err
	}
}
