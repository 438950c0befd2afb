package middleware

import (
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/vcpool/internal/config"
)

// bucketScript takes one token from the bucket at KEYS[1] and returns
// {allowed, remaining, retry_after_ms}.  A token is added every ARGV[3] ms
// up to ARGV[2].
var bucketScript = redis.NewScript(`
local now, capacity, every, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens, ts = tonumber(state[1]), tonumber(state[2])
if tokens == nil or ts == nil then
    tokens, ts = capacity, now
end
local gained = math.floor((now - ts) / every)
if gained > 0 then
    tokens = math.min(capacity, tokens + gained)
    ts = ts + gained * every
end
local allowed, retry = 0, 0
if tokens > 0 then
    allowed, tokens = 1, tokens - 1
else
    retry = every - (now - ts)
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tokens, retry}
`)

// RateLimit gives every authenticated caller a token bucket per route and
// pool, so an investor retrying POST /pools/7/reservations cannot starve
// their own calls on other pools nor anyone else's.  It reads the caller
// set by JWTAuth and must be mounted after it.  Redis errors fail open.
func RateLimit(cfg config.RateLimitSettings, rdb redis.Scripter) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    every := max(cfg.RefillEvery.Milliseconds(), 1)
    ttl := int64((time.Duration(cfg.Capacity)*cfg.RefillEvery)/time.Second) + 1

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key, err := rateKey(cfg.Prefix, c)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
            }
            res, err := bucketScript.Run(c.Request().Context(), rdb, []string{key},
                time.Now().UnixMilli(), cfg.Capacity, every, ttl).Int64Slice()
            if err != nil || len(res) != 3 {
                c.Logger().Warnf("ratelimit: %s: %v", key, err)
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
            if res[0] == 1 {
                return next(c)
            }
            secs := (res[2] + 999) / 1000
            h.Set("Retry-After", strconv.FormatInt(secs, 10))
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":       "rate limit exceeded",
                "retry_after": secs,
            })
        }
    }
}

// rateKey is "<prefix>:<user>:<method> <route>[:<id>]", e.g.
// "vcpool:rl:42:POST /v1/pools/:id/reservations:7".
func rateKey(prefix string, c echo.Context) (string, error) {
    uid, err := UserID(c)
    if err != nil {
        return "", err
    }
    key := prefix + ":" + strconv.FormatInt(uid, 10) + ":" + c.Request().Method + " " + c.Path()
    if id := c.Param("id"); id != "" {
        key += ":" + id
    }
    return key, nil
}
