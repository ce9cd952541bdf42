package proc

import (
	"os"
	"os/exec"
	"strings"
	"sync"
)

var lookupMu sync.Mutex
var lookupCache = map[string]string{}

// ResolveAgentPath finds the agent executable. Candidates are checked in
// order, then a login shell `which` (to pick up PATH entries from shell
// profiles the daemon doesn't inherit), then the bare command name as a
// last resort. The first hit is cached process-wide.
func ResolveAgentPath(command string, candidates []string) string {
	lookupMu.Lock()
	defer lookupMu.Unlock()
	if cached, ok := lookupCache[command]; ok {
		return cached
	}

	path := command
	found := false
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			path = candidate
			found = true
			break
		}
	}
	if !found {
		out, err := exec.Command("bash", "-l", "-c", "which "+command).Output()
		if err == nil {
			if p := strings.TrimSpace(string(out)); p != "" {
				path = p
			}
		}
	}

	lookupCache[command] = path
	return path
}

// resetLookupCache exists for tests.
func resetLookupCache() {
	lookupMu.Lock()
	defer lookupMu.Unlock()
	lookupCache = map[string]string{}
}
