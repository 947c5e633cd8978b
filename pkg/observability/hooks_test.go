package observability

import (
	"context"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	r := NoopResolverHooks{}
	r.OnPin("flask", "2.1.2", 1)
	r.OnBacktrack("click", 3)

	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "simple")
	c.OnCacheMiss(ctx, "warehouse")
	c.OnCacheSet(ctx, "simple", 1024)

	h := NoopHTTPHooks{}
	h.OnRequest(ctx, "GET", "https://pypi.org/simple/requests/")
	h.OnResponse(ctx, "GET", "https://pypi.org/simple/requests/", time.Second)
	h.OnError(ctx, "GET", "https://pypi.org/simple/requests/", nil)
}

type countingResolverHooks struct {
	pins, backtracks int
}

func (c *countingResolverHooks) OnPin(string, string, int) { c.pins++ }
func (c *countingResolverHooks) OnBacktrack(string, int)   { c.backtracks++ }

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	if _, ok := Resolver().(NoopResolverHooks); !ok {
		t.Error("Resolver() should return NoopResolverHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	counter := &countingResolverHooks{}
	SetResolverHooks(counter)
	Resolver().OnPin("flask", "2.1.2", 1)
	Resolver().OnBacktrack("click", 2)
	if counter.pins != 1 || counter.backtracks != 1 {
		t.Errorf("counter = %+v, want one pin and one backtrack", counter)
	}

	// nil registrations are ignored.
	SetResolverHooks(nil)
	if Resolver() != counter {
		t.Error("SetResolverHooks(nil) should keep the previous hooks")
	}
}
