package cache

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

func TestTTLMonotonicityProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ttl := time.Duration(rapid.Int64Range(1, int64(60*24*time.Hour)).Draw(rt, "ttl"))
		offset := time.Duration(rapid.Int64Range(0, int64(120*24*time.Hour)).Draw(rt, "offset"))

		mem, err := NewMemory(8)
		if err != nil {
			rt.Fatal(err)
		}
		tier1 := newMapStore("tier1", 0)
		clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		c := NewTiered(testConfig(), mem, tier1, nil)
		c.SetClock(clock.now)

		ctx := context.Background()
		if err := c.Set(ctx, "key", response("r", models.EvidenceModerate), ttl); err != nil {
			rt.Fatal(err)
		}

		clock.advance(offset)
		_, ok := c.Get(ctx, "key")
		if offset < ttl && !ok {
			rt.Fatalf("entry missing at %s with ttl %s", offset, ttl)
		}
		if offset >= ttl && ok {
			rt.Fatalf("entry served at %s with ttl %s", offset, ttl)
		}
	})
}
