package middleware

// identity.go reads the caller identity that JWTAuth stored in the Echo
// context.  Handlers and the rate limiter both go through UserID.

import (
    "errors"
    "strconv"

    "github.com/labstack/echo/v4"
)

// Roles issued by the identity provider.
const (
    RoleInvestor = "INVESTOR"
    RoleAdmin    = "ADMIN"
)

// ErrNoIdentity is returned when the context carries no usable user_id.
var ErrNoIdentity = errors.New("invalid user_id in context")

// UserID extracts the authenticated user id.  JSON numbers decode to
// float64 and some issuers send the subject as a string, so both are
// accepted.
func UserID(c echo.Context) (int64, error) {
    switch t := c.Get("user_id").(type) {
    case int64:
        return t, nil
    case int:
        return int64(t), nil
    case float64:
        if t > 0 && t == float64(int64(t)) {
            return int64(t), nil
        }
    case string:
        if n, err := strconv.ParseInt(t, 10, 64); err == nil && n > 0 {
            return n, nil
        }
    }
    return 0, ErrNoIdentity
}
