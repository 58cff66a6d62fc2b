package game

import (
	"fmt"
	"log"
	"sync"
)

// The module set is populated by explicit Register calls during process
// startup and read-only afterwards. No reflection, no discovery scans.
var (
	modulesMu sync.RWMutex
	modules   = make(map[string]Runtime)
)

// Register adds a game module under its game type. Registering the same type
// twice is a programming error and panics during startup.
func Register(rt Runtime) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	name := rt.GameType()
	if _, dup := modules[name]; dup {
		panic(fmt.Sprintf("game module %q registered twice", name))
	}
	modules[name] = rt
	log.Printf("[GAME] Registered module %q (kind=%d)", name, rt.Kind())
}

// Get resolves a game type to its module in O(1).
func Get(gameType string) (Runtime, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	rt, ok := modules[gameType]
	return rt, ok
}

// All returns the registered modules; the scheduler iterates this.
func All() []Runtime {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	out := make([]Runtime, 0, len(modules))
	for _, rt := range modules {
		out = append(out, rt)
	}
	return out
}

// ResetForTest clears the registry. Tests only.
func ResetForTest() {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = make(map[string]Runtime)
}
