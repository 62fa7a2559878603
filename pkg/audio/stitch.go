// Package audio stitches ordered per-turn segment files into one episode
// file. The primary implementation shells out to ffmpeg; a raw
// concatenator serves formats that tolerate byte-level joining (PCM, and
// same-encoder MP3 streams) and environments without ffmpeg.
package audio

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Stitcher concatenates segment files, in the given order, into outPath.
type Stitcher interface {
	Stitch(ctx context.Context, segmentPaths []string, outPath string) error
}

// RawStitcher joins segment files by plain byte concatenation. Valid for
// headerless PCM and acceptable for MP3 streams produced by a single
// encoder configuration.
type RawStitcher struct{}

var _ Stitcher = (*RawStitcher)(nil)

// Stitch implements Stitcher.
func (RawStitcher) Stitch(ctx context.Context, segmentPaths []string, outPath string) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("audio: no segments to stitch")
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", outPath, err)
	}
	defer out.Close()

	for _, p := range segmentPaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendFile(out, p); err != nil {
			return err
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("audio: close %s: %w", outPath, err)
	}
	return nil
}

func appendFile(out *os.File, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audio: open segment %s: %w", path, err)
	}
	defer in.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("audio: copy segment %s: %w", path, err)
	}
	return nil
}
