package artifacts

import (
	"context"
	"fmt"
	"os"
)

// LocalSource treats the model directory as already populated
type LocalSource struct{}

func (LocalSource) Sync(_ context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("model directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("model path %s is not a directory", dir)
	}
	return nil
}
