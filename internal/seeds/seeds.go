// Package seeds reads the line-delimited URL artifact produced by seed discovery.
package seeds

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// Read loads the seed file at path. A missing file maps to harvest.ErrNoSeeds.
func Read(path string) ([]string, error) {
	// #nosec G304 -- the seed path comes from operator configuration.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist, run seed discovery first", harvest.ErrNoSeeds, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()

	urls, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: %s has no http urls", harvest.ErrNoSeeds, path)
	}
	return urls, nil
}

// Parse trims each line, keeps those starting with "http" and drops repeats,
// keeping the first occurrence.
func Parse(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	var urls []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "http") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}
