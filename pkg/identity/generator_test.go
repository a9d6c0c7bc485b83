package identity

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNameUUID(t *testing.T) {
	t.Parallel()
	id := NameUUID("defaultamq.direct")
	assert.Equal(t, uuid.Version(3), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())
	assert.Equal(t, id, NameUUID("defaultamq.direct"))
	assert.NotEqual(t, id, NameUUID("otheramq.direct"))

	// MD5("") = d41d8cd98f00b204e9800998ecf8427e
	assert.Equal(t, "d41d8cd9-8f00-3204-a980-0998ecf8427e", NameUUID("").String())
}

func TestGenerator(t *testing.T) {
	t.Parallel()
	g := NewGenerator(DefaultConfig())

	t.Run("Reserved", func(t *testing.T) {
		for _, name := range []string{"", "amq.direct", "amq.topic", "qpid.management"} {
			assert.True(t, g.Deterministic(name), name)
			assert.Equal(t, NameUUID("vh"+name), g.ForName(name, "vh"), name)
		}
	})

	t.Run("Random", func(t *testing.T) {
		assert.False(t, g.Deterministic("orders"))
		a, b := g.ForName("orders", "vh"), g.ForName("orders", "vh")
		assert.NotEqual(t, a, b)
		assert.Equal(t, uuid.Version(4), a.Version())
	})

	t.Run("Configured", func(t *testing.T) {
		g := NewGenerator(Config{Names: []string{"orders"}, Prefixes: []string{"sys-", ""}})
		assert.True(t, g.Deterministic("orders"))
		assert.True(t, g.Deterministic("sys-audit"))
		assert.False(t, g.Deterministic("amq.direct"))
		assert.False(t, g.Deterministic(""), "empty prefix matches nothing")
	})

	t.Run("DefaultConfigIsCopy", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Prefixes[0] = "mutated."
		assert.Equal(t, "amq.", DefaultPrefixes[0])
	})
}

func TestGeneratorConcurrent(t *testing.T) {
	t.Parallel()
	g := NewGenerator(DefaultConfig())
	var mu sync.Mutex
	seen := make(map[uuid.UUID]struct{})
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Random()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 64)
}
