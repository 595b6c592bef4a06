package web

import (
	"github.com/gofiber/fiber/v3"
)

// TenantHeader carries the caller's tenant identifier on every request.
const TenantHeader = "X-Tenant-ID"

const tenantLocalKey = "tenant_id"

// RequireTenant rejects requests without a tenant header. Handlers read the
// tenant from locals and never from ambient state, so one request can never
// observe another tenant's rows.
func RequireTenant() fiber.Handler {
	return func(c fiber.Ctx) error {
		tenantID := c.Get(TenantHeader)
		if tenantID == "" {
			return badRequest(c, TenantHeader+" header is required")
		}

		c.Locals(tenantLocalKey, tenantID)

		return c.Next()
	}
}

func tenantID(c fiber.Ctx) string {
	tenantID, _ := c.Locals(tenantLocalKey).(string)

	return tenantID
}
