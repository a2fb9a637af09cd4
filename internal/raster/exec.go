package raster

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Commander runs one external command and returns its combined output.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Exec runs the GDAL utilities found in BinDir, or on PATH when empty.
type Exec struct {
	BinDir string
}

func (e Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	bin := name
	if e.BinDir != "" {
		bin = filepath.Join(e.BinDir, name)
	}
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %s: %w", name, tail(out), err)
	}
	return out, nil
}

// tail keeps the last lines of a tool's output, where GDAL reports errors.
func tail(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.Join(lines, " | ")
}
