package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "errors"
    "fmt"
    "log"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/vcpool/internal/config"
    "github.com/iliyamo/vcpool/internal/queue"
)

// PoolCache keeps rendered public catalogue responses in Redis.  Entries
// are namespaced by a generation counter: "pools" for the listing and
// "pool:<id>" for each pool page.  Invalidate bumps the pool's counter and
// the listing's, so a response rendered before a committed change is never
// served after it.
type PoolCache struct {
    cfg config.CacheSettings
    rdb redis.Cmdable
}

// NewPoolCache returns nil when caching is disabled or Redis is missing;
// a nil *PoolCache is safe to use.
func NewPoolCache(cfg config.CacheSettings, rdb redis.Cmdable) *PoolCache {
    if !cfg.Enabled || rdb == nil {
        return nil
    }
    return &PoolCache{cfg: cfg, rdb: rdb}
}

func poolScope(id string) string { return "pool:" + id }

const listScope = "pools"

func genKey(prefix, scope string) string { return prefix + ":" + scope + ":gen" }

// entryKey names one cached response inside a scope generation.  Listing
// keys also hash the normalised query so ?status=open&status=full and its
// reordering share an entry.
func entryKey(prefix, scope, gen, query string) string {
    key := prefix + ":" + scope + ":g" + gen
    if query != "" {
        key += fmt.Sprintf(":q%x", sha1.Sum([]byte(query)))
    }
    return key
}

func (pc *PoolCache) key(ctx context.Context, c echo.Context) (string, error) {
    scope, query := listScope, c.QueryParams().Encode()
    if id := c.Param("id"); id != "" {
        scope, query = poolScope(id), ""
    }
    gen, err := pc.rdb.Get(ctx, genKey(pc.cfg.Prefix, scope)).Result()
    if errors.Is(err, redis.Nil) {
        gen, err = "0", nil
    }
    if err != nil {
        return "", err
    }
    return entryKey(pc.cfg.Prefix, scope, gen, query), nil
}

// Invalidate retires every cached response that shows pool poolID.
func (pc *PoolCache) Invalidate(ctx context.Context, poolID int64) error {
    if pc == nil {
        return nil
    }
    _, err := pc.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
        p.Incr(ctx, genKey(pc.cfg.Prefix, poolScope(fmt.Sprint(poolID))))
        p.Incr(ctx, genKey(pc.cfg.Prefix, listScope))
        return nil
    })
    return err
}

// Invalidating wraps an event publisher so each committed pool event
// retires the pool's cached pages before it is forwarded.
func (pc *PoolCache) Invalidating(next queue.PublisherFunc) queue.PublisherFunc {
    if pc == nil {
        return next
    }
    return func(ctx context.Context, ev queue.PoolEvent) error {
        if err := pc.Invalidate(ctx, ev.PoolID); err != nil {
            log.Printf("[WARN] cache: invalidate pool %d: %v", ev.PoolID, err)
        }
        return next(ctx, ev)
    }
}

type bodyRecorder struct {
    http.ResponseWriter
    status int
    limit  int
    body   bytes.Buffer
    over   bool
}

func (r *bodyRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
    if r.body.Len()+len(b) > r.limit {
        r.over = true
    }
    if !r.over {
        r.body.Write(b)
    }
    return r.ResponseWriter.Write(b)
}

// Middleware serves GET catalogue requests from Redis and stores 200
// responses.  Redis errors fall through to the handler.
func (pc *PoolCache) Middleware() echo.MiddlewareFunc {
    if pc == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if c.Request().Method != http.MethodGet {
                return next(c)
            }
            ctx := c.Request().Context()
            key, err := pc.key(ctx, c)
            if err != nil {
                c.Logger().Warnf("cache: %v", err)
                return next(c)
            }
            if body, err := pc.rdb.Get(ctx, key).Bytes(); err == nil {
                c.Response().Header().Set("X-Cache", "HIT")
                return c.JSONBlob(http.StatusOK, body)
            }

            rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: pc.cfg.MaxBodyBytes}
            c.Response().Writer = rec
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if rec.status == http.StatusOK && !rec.over {
                if err := pc.rdb.Set(context.WithoutCancel(ctx), key, rec.body.Bytes(), pc.cfg.TTL).Err(); err != nil {
                    c.Logger().Warnf("cache: store %s: %v", key, err)
                }
            }
            return nil
        }
    }
}
