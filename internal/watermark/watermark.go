// Package watermark stamps a channel logo onto videos before they are
// published. It shells out to ffmpeg; when ffmpeg or the logo file is
// missing the original video is used untouched.
package watermark

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/khnews/crosspost/internal/logger"
)

type Processor struct {
	logoPath string
	scale    float64
	workDir  string
}

// New builds a processor. logoPath may be empty, in which case Process
// is a no-op passthrough.
func New(logoPath string, scale float64, workDir string) *Processor {
	if scale <= 0 || scale > 1 {
		scale = 0.35
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Processor{logoPath: logoPath, scale: scale, workDir: workDir}
}

func (p *Processor) Enabled() bool {
	if p.logoPath == "" {
		return false
	}
	if _, err := os.Stat(p.logoPath); err != nil {
		return false
	}
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// Process overlays the logo in the bottom-right corner, scaled relative
// to the video width, and returns the path of the stamped copy. Any
// failure returns the original path so publication proceeds without the
// watermark.
func (p *Processor) Process(ctx context.Context, videoPath string) string {
	if !p.Enabled() {
		return videoPath
	}

	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	outPath := filepath.Join(p.workDir, base+"_wm"+filepath.Ext(videoPath))

	filter := fmt.Sprintf(
		"[1:v][0:v]scale2ref=w=main_w*%.2f:h=ow/mdar[wm][vid];[vid][wm]overlay=W-w-20:H-h-20",
		p.scale,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", videoPath,
		"-i", p.logoPath,
		"-filter_complex", filter,
		"-codec:a", "copy",
		outPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Warn("watermark failed, using original video",
			"video", videoPath, "error", err, "ffmpeg", tail(string(output), 400))
		os.Remove(outPath)
		return videoPath
	}

	logger.Debug("video watermarked", "video", videoPath, "output", outPath)
	return outPath
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
