// Package estimator runs the trained PM10 model as an external command.
package estimator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/pipeline"
)

var _ pipeline.Estimator = (*Command)(nil)

// Command invokes the model runner as
//
//	<argv...> --model <model> --output <out> <feature>...
//
// with the features in stack order. The runner must exit zero and leave the
// output raster behind.
type Command struct {
	argv []string
	log  zerolog.Logger
}

// New returns a Command for argv, the runner binary followed by fixed
// arguments.
func New(argv []string, log zerolog.Logger) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("estimator: command is required")
	}
	return &Command{argv: append([]string(nil), argv...), log: logging.Component(log, "estimator")}, nil
}

func (c *Command) Predict(ctx context.Context, req pipeline.PredictRequest) error {
	if len(req.Features) == 0 {
		return errors.New("estimator: empty feature stack")
	}
	args := append([]string(nil), c.argv[1:]...)
	args = append(args, "--model", req.Model, "--output", req.Out)
	args = append(args, req.Features...)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("estimator: %s: %s: %w", c.argv[0], lastLine(stderr.String()), err)
	}
	if _, err := os.Stat(req.Out); err != nil {
		return fmt.Errorf("estimator: no output written: %w", err)
	}
	c.log.Debug().Int("features", len(req.Features)).Dur("took", time.Since(start)).Str("out", req.Out).Msg("prediction written")
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
