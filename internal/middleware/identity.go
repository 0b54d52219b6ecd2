package middleware

// identity.go holds helpers shared by middleware and handlers for reading
// the authenticated principal that JWTAuth stored in the context.

import "github.com/labstack/echo/v4"

// Subject returns the authenticated subject (the device id for scanning
// devices) or "anon" when the request carries no token.
func Subject(c echo.Context) string {
    if s, ok := c.Get("user_id").(string); ok && s != "" {
        return s
    }
    return "anon"
}

// Role returns the authenticated role or "".
func Role(c echo.Context) string {
    r, _ := c.Get("role").(string)
    return r
}
