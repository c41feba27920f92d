package transcode

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"seedforge/internal/domain"
)

// stderrTailLimit bounds the diagnostic output kept for failed jobs.
const stderrTailLimit = 500

var scaleHeights = map[string]int{
	"480p":  480,
	"720p":  720,
	"1080p": 1080,
	"4k":    2160,
}

// FFmpegRunner supervises one ffmpeg child process per job, parsing the
// `-progress pipe:1` key=value stream on stdout. Missing or malformed
// progress lines leave the job at "progress unknown"; they never fail it.
type FFmpegRunner struct {
	binary string
	logger *logrus.Logger
}

func NewFFmpegRunner(binary string, logger *logrus.Logger) *FFmpegRunner {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &FFmpegRunner{binary: binary, logger: logger}
}

func (r *FFmpegRunner) Run(ctx context.Context, job domain.TranscodeJob, onProgress func(float64)) error {
	if _, err := os.Stat(job.SourcePath); err != nil {
		return fmt.Errorf("source file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	// Best effort: without a duration, progress stays unknown.
	duration := r.probeDuration(ctx, job.SourcePath)

	cmd := exec.CommandContext(ctx, r.binary, buildArgs(job.SourcePath, job.OutputPath, job.Rule)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	tail := &tailBuffer{limit: stderrTailLimit}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", r.binary, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if onProgress == nil {
			continue
		}
		if fraction, ok := parseProgressLine(scanner.Text(), duration); ok {
			onProgress(fraction)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s exited: %v: %s", filepath.Base(r.binary), err, tail.String())
	}
	return nil
}

// buildArgs derives the ffmpeg invocation from the job's rule: libx264/aac
// for container compatibility, plus a scale filter unless the resolution is
// "original".
func buildArgs(source, dest string, rule domain.TranscodeRule) []string {
	args := []string{
		"-i", source,
		"-y",
		"-progress", "pipe:1",
		"-nostats",
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
	}
	if height, ok := scaleHeights[rule.Resolution]; ok {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", height))
	}
	args = append(args, "-c:a", "aac", "-b:a", "192k", dest)
	return args
}

// parseProgressLine extracts a completion fraction from one progress line.
// ffmpeg reports elapsed output time as `out_time_ms=<microseconds>`; the
// fraction is capped just below 1.0 so that full progress is only ever set
// on a clean exit.
func parseProgressLine(line string, durationSeconds float64) (float64, bool) {
	const prefix = "out_time_ms="
	line = strings.TrimSpace(line)
	if durationSeconds <= 0 || !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	elapsedMicros, err := strconv.ParseInt(strings.TrimPrefix(line, prefix), 10, 64)
	if err != nil || elapsedMicros < 0 {
		return 0, false
	}
	fraction := (float64(elapsedMicros) / 1e6) / durationSeconds
	if fraction > 0.999 {
		fraction = 0.999
	}
	return fraction, true
}

// probeDuration asks ffprobe (expected alongside ffmpeg) for the source
// duration in seconds. Returns 0 when unavailable.
func (r *FFmpegRunner) probeDuration(ctx context.Context, path string) float64 {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	probe := strings.Replace(r.binary, "ffmpeg", "ffprobe", 1)
	out, err := exec.CommandContext(probeCtx, probe,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		r.logger.Debugf("probe duration for %s: %v", path, err)
		return 0
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || duration <= 0 {
		return 0
	}
	return duration
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

var _ Runner = (*FFmpegRunner)(nil)
