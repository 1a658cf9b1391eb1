package models

import "time"

type CacheEntry struct {
	Key          string    `json:"key"`
	Response     *Response `json:"response"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccessCount  int64     `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Expired reports whether the entry must no longer be served at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func (e *CacheEntry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessed = now
}

func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Response = e.Response.Clone()
	return &c
}

type TierStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}

type CacheStats struct {
	Tiers      []TierStats `json:"tiers"`
	Hits       int64       `json:"hits"`
	Misses     int64       `json:"misses"`
	Promotions int64       `json:"promotions"`
	Evictions  int64       `json:"evictions"`
	Expired    int64       `json:"expired"`
	Degraded   int64       `json:"degraded_writes"`
}
