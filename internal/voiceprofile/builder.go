package voiceprofile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/livebabel/babel-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// Builder turns a recorded voice sample into a synthesis artifact. The
// build is slow and runs out of band; implementations must respect ctx.
type Builder interface {
	Build(ctx context.Context, speakerID, sampleRef string) (artifactRef string, err error)
}

type execBuilder struct {
	cmd         []string
	artifactDir string
}

// NewExecBuilder shells out to an embedding/enrollment command:
// it receives --sample and --out paths and exits zero once the artifact
// is written.
func NewExecBuilder(cfg config.ProfilesConfig) (Builder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.BuildCommand)
	if err != nil {
		return nil, fmt.Errorf("parse profile build command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("profile build command empty")
	}
	return &execBuilder{cmd: args, artifactDir: cfg.ArtifactDir}, nil
}

func (b *execBuilder) Build(ctx context.Context, speakerID, sampleRef string) (string, error) {
	if err := os.MkdirAll(b.artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	artifact := filepath.Join(b.artifactDir, speakerID+".profile")

	base := b.cmd[0]
	args := append([]string{}, b.cmd[1:]...)
	args = append(args, "--sample", sampleRef, "--out", artifact)

	command := exec.CommandContext(ctx, base, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("profile build command failed: %w: %s", err, stderr.String())
	}
	if _, err := os.Stat(artifact); err != nil {
		return "", fmt.Errorf("profile build produced no artifact: %w", err)
	}
	return artifact, nil
}

type mockBuilder struct {
	artifactDir string
}

// NewMockBuilder writes a placeholder artifact; used in development.
func NewMockBuilder(cfg config.ProfilesConfig) Builder {
	return &mockBuilder{artifactDir: cfg.ArtifactDir}
}

func (b *mockBuilder) Build(ctx context.Context, speakerID, sampleRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	artifact := filepath.Join(b.artifactDir, speakerID+".profile")
	if err := os.WriteFile(artifact, []byte(sampleRef), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return artifact, nil
}
