package sync

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ParseIDs reads workshop item ids, one per line. Blank lines and lines
// starting with '#' are ignored; malformed lines are skipped with a
// warning. Duplicates collapse to their first occurrence, preserving order.
func ParseIDs(r io.Reader, log *zap.Logger) ([]uint64, error) {
	var ids []uint64
	seen := make(map[uint64]struct{})

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		id, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			log.Warn("Skipping malformed id", zap.Int("line", line), zap.String("value", text))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read id list: %w", err)
	}
	return ids, nil
}

// LoadIDs interprets arg as either a single literal item id or the path of
// an id list file.
func LoadIDs(arg string, log *zap.Logger) ([]uint64, error) {
	if id, err := strconv.ParseUint(arg, 10, 64); err == nil {
		return []uint64{id}, nil
	}

	f, err := os.Open(arg)
	if err != nil {
		return nil, fmt.Errorf("open id list %s: %w", arg, err)
	}
	defer f.Close()
	return ParseIDs(f, log)
}
