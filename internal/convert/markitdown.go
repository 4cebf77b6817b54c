// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hsayeed/knowmat/internal/container"
)

const imageMarkitdown = "markitdown:latest"

// MarkitdownConverter converts documents by piping them through the
// markitdown container image. It depends on a container.Runtime (docker
// or podman) injected at construction time.
type MarkitdownConverter struct {
	runtime container.Runtime
}

// NewMarkitdownConverter creates a converter that uses the given container
// runtime to run the markitdown image. It verifies that the markitdown
// image exists locally before returning.
func NewMarkitdownConverter(rt container.Runtime) (*MarkitdownConverter, error) {
	if err := rt.ImageExists(imageMarkitdown); err != nil {
		return nil, fmt.Errorf("markitdown image not available in %s: %w", rt.Name(), err)
	}
	return &MarkitdownConverter{runtime: rt}, nil
}

// Convert reads the document at path, pipes it through the markitdown
// container, and returns the resulting text. The file extension is passed
// along so markitdown picks the right parser for stdin input.
func (m *MarkitdownConverter) Convert(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening document %s: %w", path, err)
	}
	defer f.Close()

	var out bytes.Buffer
	args := []string{"-x", filepath.Ext(path)}
	if err := m.runtime.Run(imageMarkitdown, args, f, &out); err != nil {
		return "", fmt.Errorf("converting %s with markitdown: %w", path, err)
	}

	if out.Len() == 0 {
		return "", fmt.Errorf("markitdown produced empty output for %s", path)
	}

	return out.String(), nil
}
