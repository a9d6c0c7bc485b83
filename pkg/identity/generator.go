// Package identity generates UUIDs for broker objects such as links.
//
// Most objects get a random (version 4) UUID. Well-known objects whose id
// must be stable across restarts and nodes get a name-based (version 3)
// UUID derived from the virtual host and object name, so every broker
// computes the same id for, say, "amq.direct" on vhost "default".
package identity

import (
	"crypto/md5"
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefixes are the reserved name prefixes that get deterministic ids.
var DefaultPrefixes = []string{"amq.", "qpid."}

// DefaultNames are the exact names that get deterministic ids. The empty
// name is the default exchange.
var DefaultNames = []string{""}

// Config selects which names are deterministic.
type Config struct {
	Names    []string `mapstructure:"names" yaml:"names" json:"names"`
	Prefixes []string `mapstructure:"prefixes" yaml:"prefixes" json:"prefixes"`
}

// DefaultConfig returns the stock reserved names and prefixes.
func DefaultConfig() Config {
	return Config{
		Names:    append([]string(nil), DefaultNames...),
		Prefixes: append([]string(nil), DefaultPrefixes...),
	}
}

// Generator issues object ids.
//
// Thread Safety: safe for concurrent use; immutable after construction.
type Generator struct {
	names    map[string]struct{}
	prefixes []string
}

// NewGenerator creates a generator for cfg.
func NewGenerator(cfg Config) *Generator {
	g := &Generator{names: make(map[string]struct{}, len(cfg.Names))}
	for _, n := range cfg.Names {
		g.names[n] = struct{}{}
	}
	for _, p := range cfg.Prefixes {
		if p != "" {
			g.prefixes = append(g.prefixes, p)
		}
	}
	return g
}

// Random returns a new version 4 UUID.
func (g *Generator) Random() uuid.UUID {
	return uuid.New()
}

// Deterministic reports whether name is reserved.
func (g *Generator) Deterministic(name string) bool {
	if _, ok := g.names[name]; ok {
		return true
	}
	for _, p := range g.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ForName returns the id for an object called name on virtualHost:
// name-based when name is reserved, random otherwise.
func (g *Generator) ForName(name, virtualHost string) uuid.UUID {
	if g.Deterministic(name) {
		return NameUUID(virtualHost + name)
	}
	return g.Random()
}

// NameUUID returns the version 3 UUID of the MD5 digest of name, with no
// namespace. Brokers in other languages that hash the bare name bytes
// produce the same value.
func NameUUID(name string) uuid.UUID {
	h := md5.Sum([]byte(name))
	h[6] = h[6]&0x0f | 0x30
	h[8] = h[8]&0x3f | 0x80
	id, _ := uuid.FromBytes(h[:])
	return id
}
