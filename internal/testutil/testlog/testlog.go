package testlog

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/charlink/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("test start")
}

// Capture is a JSON logger sink for asserting on emitted diagnostics.
type Capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *Capture) Logger() zerolog.Logger {
	return zerolog.New(c).Level(zerolog.TraceLevel)
}

// Count returns the number of captured lines containing substr.
func (c *Capture) Count(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, line := range strings.Split(c.buf.String(), "\n") {
		if line != "" && strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func (c *Capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
