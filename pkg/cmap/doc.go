// Package cmap provides a string-keyed concurrent map split into shards.
//
// Keys are assigned to shards by their murmur3 hash, so lookups for
// different keys rarely contend on the same lock.
//
//	m := cmap.New[*rate.Limiter]()
//	lim, _ := m.GetOrCompute(ip, newLimiter)
package cmap
