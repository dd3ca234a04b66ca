package expressions

import "sync"

// maxCachedPrograms bounds each engine's compiled-program cache. Expressions
// come from stored steps, so the set is large but finite; when the bound is
// hit the cache starts over.
const maxCachedPrograms = 512

// programCache memoizes compiled expressions by source text. Safe for
// concurrent use.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{programs: make(map[string]P)}
}

// get returns the program for source, compiling it on first use. Compile
// errors are not cached.
func (c *programCache[P]) get(source string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[source]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[source]; ok {
		return p, nil
	}
	p, err := compile(source)
	if err != nil {
		return p, err
	}
	if len(c.programs) >= maxCachedPrograms {
		c.programs = make(map[string]P)
	}
	c.programs[source] = p
	return p, nil
}
