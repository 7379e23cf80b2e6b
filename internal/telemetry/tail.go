package telemetry

import (
	"errors"
	"io"
	"os"
	"strings"
)

// NoLogsSentinel is published when the log source is absent or unreadable so
// a broken log pipe never fails a telemetry tick.
const NoLogsSentinel = "[No logs available]"

const maxTailBytes = 256 * 1024

// TailFile returns the last n lines of the file at path, newline-joined.
// Only the trailing chunk of large files is read.
func TailFile(path string, n int) string {
	if n <= 0 {
		n = 20
	}
	f, err := os.Open(path)
	if err != nil {
		return NoLogsSentinel
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return NoLogsSentinel
	}
	size := info.Size()
	offset := int64(0)
	if size > maxTailBytes {
		offset = size - maxTailBytes
	}
	buf := make([]byte, size-offset)
	read, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return NoLogsSentinel
	}
	buf = buf[:read]

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return NoLogsSentinel
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
