// Package orderid generates compact client order IDs
package orderid

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxLen is the venue's client order ID length cap.
const MaxLen = 32

// Generator produces client order IDs that are unique across restarts.
// IDs are alphanumeric only (the venue rejects separators) and never
// exceed MaxLen characters.
type Generator struct {
	prefix string

	mu       sync.Mutex
	lastSec  int64
	sequence int
}

// NewGenerator creates a Generator with the given broker prefix.
// The prefix is stripped to alphanumeric characters.
func NewGenerator(prefix string) *Generator {
	clean := make([]byte, 0, len(prefix))
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			clean = append(clean, c)
		}
	}
	return &Generator{prefix: string(clean)}
}

// sideCode is a single-character direction marker kept for log readability.
func sideCode(isBuy bool) string {
	if isBuy {
		return "B"
	}
	return "S"
}

// New returns the next client order ID.
// Format: {prefix}{B|S}{unix_seconds}{seq:3}{uuid_tail}
func (g *Generator) New(isBuy bool) string {
	g.mu.Lock()
	currentSec := time.Now().Unix()
	if currentSec != g.lastSec {
		g.lastSec = currentSec
		g.sequence = 0
	}
	g.sequence++
	seq := g.sequence
	g.mu.Unlock()

	id := fmt.Sprintf("%s%s%d%03d", g.prefix, sideCode(isBuy), currentSec, seq)

	// Pad with uuid entropy up to the cap so concurrent generators
	// on separate hosts cannot collide within the same second.
	tail := strings.ReplaceAll(uuid.New().String(), "-", "")
	if room := MaxLen - len(id); room > 0 {
		if room > len(tail) {
			room = len(tail)
		}
		id += tail[:room]
	}

	if len(id) > MaxLen {
		id = id[:MaxLen]
	}
	return id
}
