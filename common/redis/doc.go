// Package redis provides a connected cache client configured from REDIS_*
// environment variables, with lazy reconnection and a RedLock-based
// distributed lock.
package redis
