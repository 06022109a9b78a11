package python

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emenda-labs/apidelta/core/surface"
	"github.com/emenda-labs/apidelta/pkg/pypi"
)

// coreMetadata is the header block of a METADATA or PKG-INFO file.
type coreMetadata struct {
	Name         string
	Version      string
	Requirements []surface.Requirement

	// requiresDist counts Requires-Dist headers, including the ones
	// dropped for extras.
	requiresDist int
}

// readMetadata parses the RFC 822 style header block of a core metadata
// file. The body after the first blank line is ignored.
func readMetadata(path string) (*coreMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	md := &coreMetadata{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		// Continuation lines belong to multi-line headers we don't read.
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(key) {
		case "name":
			md.Name = value
		case "version":
			md.Version = value
		case "requires-dist":
			md.requiresDist++
			if req, ok := pypi.ParseRequirement(value); ok {
				md.Requirements = append(md.Requirements, req)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return md, nil
}

// declaresRequirements reports whether md can be trusted to list every
// requirement. Wheel METADATA always does; an sdist PKG-INFO only when it
// carries Requires-Dist at all, since older build backends leave
// requirements to setup.py.
func (md *coreMetadata) declaresRequirements(path string) bool {
	return filepath.Base(path) == "METADATA" || md.requiresDist > 0
}
