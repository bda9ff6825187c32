package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DescriptorRenderer is the reference SceneRenderer: instead of calling
// an image backend it writes a scene descriptor JSON that a front end
// can render however it likes. A real diffusion client plugs in behind
// the same interface.
type DescriptorRenderer struct {
	dir string
}

type sceneDescriptor struct {
	Prompt    string `json:"prompt"`
	CreatedAt int64  `json:"created_at"`
}

// NewDescriptorRenderer writes descriptors under dir, creating it on
// first use.
func NewDescriptorRenderer(dir string) *DescriptorRenderer {
	return &DescriptorRenderer{dir: dir}
}

// RenderScene implements SceneRenderer.
func (d *DescriptorRenderer) RenderScene(ctx context.Context, prompt string) (string, error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	data, err := json.Marshal(sceneDescriptor{
		Prompt:    prompt,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal scene descriptor: %w", err)
	}

	path := filepath.Join(d.dir, "scene-"+uuid.NewString()+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write scene descriptor: %w", err)
	}
	return path, nil
}
