package config

import (
    "strings"
    "time"
)

// CacheConfig drives the Redis response cache.  Only non-personal listings
// (the coach directory) are mounted behind it; connection and contact
// routes must never be cached.  With Enabled false or no Redis client the
// middleware passes requests through.
type CacheConfig struct {
    Enabled      bool
    Methods      map[string]bool
    TTL          time.Duration
    KeyStrategy  string // route | route_query | method_route | method_route_query
    Prefix       string
    MaxBodyBytes int
}

var cacheStrategies = map[string]bool{
    "route": true, "route_query": true, "method_route": true, "method_route_query": true,
}

// LoadCacheConfig reads CACHE_* variables.  An unknown key strategy falls
// back to route_query and a non-positive TTL to one second.
func LoadCacheConfig() CacheConfig {
    cfg := CacheConfig{
        Enabled:      envBool("CACHE_ENABLED", true),
        Methods:      parseMethods(getenv("CACHE_METHODS", "GET")),
        TTL:          envDur("CACHE_TTL", 15*time.Second),
        KeyStrategy:  strings.ToLower(getenv("CACHE_KEY_STRATEGY", "route_query")),
        Prefix:       getenv("CACHE_PREFIX", "cs:cache"),
        MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
    }
    if !cacheStrategies[cfg.KeyStrategy] {
        cfg.KeyStrategy = "route_query"
    }
    if cfg.TTL <= 0 {
        cfg.TTL = time.Second
    }
    return cfg
}

func parseMethods(s string) map[string]bool {
    m := map[string]bool{}
    for _, p := range strings.Split(s, ",") {
        p = strings.TrimSpace(strings.ToUpper(p))
        if p != "" {
            m[p] = true
        }
    }
    return m
}
