package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FFmpegStitcher concatenates segments with the ffmpeg concat demuxer.
// It re-muxes without re-encoding, so all segments must share codec and
// parameters, which holds for segments synthesised by one TTS
// configuration.
type FFmpegStitcher struct {
	// FFmpegBin is the ffmpeg executable. Defaults to "ffmpeg" on PATH.
	FFmpegBin string

	// FFprobeBin is the ffprobe executable. Defaults to "ffprobe" on PATH.
	FFprobeBin string
}

var _ Stitcher = (*FFmpegStitcher)(nil)

// NewFFmpegStitcher creates an FFmpegStitcher using binaries from PATH.
func NewFFmpegStitcher() *FFmpegStitcher {
	return &FFmpegStitcher{FFmpegBin: "ffmpeg", FFprobeBin: "ffprobe"}
}

// Available reports whether the ffmpeg binary can be found.
func (s *FFmpegStitcher) Available() bool {
	bin := s.FFmpegBin
	if bin == "" {
		bin = "ffmpeg"
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

// Stitch implements Stitcher.
func (s *FFmpegStitcher) Stitch(ctx context.Context, segmentPaths []string, outPath string) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("audio: no segments to stitch")
	}

	listPath := outPath + ".concat.txt"
	if err := os.WriteFile(listPath, []byte(ConcatList(segmentPaths)), 0o644); err != nil {
		return fmt.Errorf("audio: write concat list: %w", err)
	}
	defer os.Remove(listPath)

	bin := s.FFmpegBin
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio: ffmpeg concat: %w: %s", err, tail(stderr.String(), 512))
	}
	return nil
}

// ProbeDuration returns the duration of an audio file via ffprobe.
func (s *FFmpegStitcher) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	bin := s.FFprobeBin
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("audio: ffprobe %s: %w", path, err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("audio: ffprobe %s: parse duration: %w", path, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ConcatList renders the ffmpeg concat demuxer input file. Single quotes
// in paths are escaped per the demuxer's quoting rules.
func ConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		abs := p
		if a, err := filepath.Abs(p); err == nil {
			abs = a
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
