package syscalls

import (
	"fmt"
	"math/rand"
	"strings"
)

// SpecialPaths implements spec.md §4.4's special-path policy: before
// opening an OS-backed file, certain paths are rewritten or served from
// in-memory generated content instead.
type SpecialPaths struct {
	// HostsFile renders the simulator-owned /etc/hosts contents (see
	// simnet.Resolver.HostsFile).
	HostsFile func() string
	// NativePID is the real OS pid backing /proc/self rewriting.
	NativePID int
}

// Resolution is the outcome of resolving one path. Exactly one of Path or
// Virtual is meaningful: a non-nil Virtual means "serve these bytes
// in-memory, do not touch the filesystem at all"; otherwise Path names
// the (possibly rewritten) real path to open.
type Resolution struct {
	Path    string
	Virtual []byte
}

// Resolve applies spec.md §4.4's special-path table. rng supplies the
// content for /dev/[u]random and the generated uuid file, drawn from the
// requesting host's deterministic RNG per spec.md §8.
func (s SpecialPaths) Resolve(path string, rng *rand.Rand) Resolution {
	switch {
	case path == "/etc/hosts":
		contents := ""
		if s.HostsFile != nil {
			contents = s.HostsFile()
		}
		return Resolution{Virtual: []byte(contents)}

	case path == "/etc/localtime":
		return Resolution{Path: "/usr/share/zoneinfo/UTC"}

	case strings.HasPrefix(path, "/proc/self/") || path == "/proc/self":
		rest := strings.TrimPrefix(path, "/proc/self")
		return Resolution{Path: fmt.Sprintf("/proc/%d%s", s.NativePID, rest)}

	case path == "/dev/random" || path == "/dev/urandom":
		return Resolution{Virtual: randomBytes(rng, 4096)}

	case path == "/sys/devices/system/cpu/possible" || path == "/sys/devices/system/cpu/online":
		return Resolution{Virtual: []byte("0\n")}

	case path == "/proc/sys/kernel/random/uuid":
		return Resolution{Virtual: []byte(randomUUID(rng) + "\n")}

	default:
		return Resolution{Path: path}
	}
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b) //nolint:errcheck // math/rand.Rand.Read never errors
	return b
}

// randomUUID generates a version-4-shaped UUID string from rng, so that
// repeated reads within a run with the same seed reproduce the same
// sequence of values, per spec.md §8.
func randomUUID(rng *rand.Rand) string {
	b := randomBytes(rng, 16)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
