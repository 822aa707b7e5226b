package engine

import (
	"os"
	"strings"
)

// logCursor tracks the read position into the session log. On truncation
// (the file shrank, e.g. a fresh launch) the cursor resets to zero.
type logCursor struct {
	path   string
	offset int64
	// partial holds an incomplete trailing line between polls.
	partial string
}

func newLogCursor(path string) *logCursor {
	return &logCursor{path: path}
}

// ReadNew returns the complete lines appended since the previous poll.
// A missing file yields no lines and no error.
func (c *logCursor) ReadNew() ([]string, error) {
	info, err := os.Stat(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if info.Size() < c.offset {
		// File was truncated; start over.
		c.offset = 0
		c.partial = ""
	}
	if info.Size() == c.offset {
		return nil, nil
	}

	file, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(c.offset, 0); err != nil {
		return nil, err
	}

	buf := make([]byte, info.Size()-c.offset)
	n, err := file.Read(buf)
	if err != nil && n == 0 {
		return nil, err
	}
	c.offset += int64(n)

	chunk := c.partial + string(buf[:n])
	lines := strings.Split(chunk, "\n")
	c.partial = lines[len(lines)-1]
	return lines[:len(lines)-1], nil
}

// Reset rewinds to the start of the log.
func (c *logCursor) Reset() {
	c.offset = 0
	c.partial = ""
}
