package pipeline

import (
	"fmt"
)

// Render output parameters: 9:16 vertical at 1080p30 with a blurred copy of
// the source as background, H.264 veryfast CRF 20, AAC 160k, and EBU R128
// loudness normalization.
const (
	renderWidth   = 1080
	renderHeight  = 1920
	renderFPS     = 30
	renderCRF     = 20
	audioBitrate  = "160k"
	loudnormI     = -16.0
	loudnormTP    = -1.5
	loudnormLRA   = 11.0
	thumbQuality  = 2 // mjpeg qscale, lower is better
	renderPreset  = "veryfast"
	renderVCodec  = "libx264"
	renderACodec  = "aac"
	renderPixFmt  = "yuv420p"
	renderMovFlag = "+faststart"
)

// BuildRenderArgs composes the FFmpeg invocation that cuts [startS, endS)
// out of inputPath and renders it as a vertical clip with a scale-and-blur
// background overlay. subtitlePath may be empty.
func BuildRenderArgs(inputPath string, startS, endS float64, subtitlePath, outputPath string) []string {
	filter := fmt.Sprintf(
		"[0:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,boxblur=20:5[bg];"+
			"[0:v]scale=%d:%d:force_original_aspect_ratio=decrease[fg];"+
			"[bg][fg]overlay=(W-w)/2:(H-h)/2",
		renderWidth, renderHeight, renderWidth, renderHeight,
		renderWidth, renderHeight,
	)
	if subtitlePath != "" {
		filter += fmt.Sprintf(",subtitles=%s", subtitlePath)
	}

	args := []string{
		"-y",
		"-ss", formatSeconds(startS),
		"-to", formatSeconds(endS),
		"-i", inputPath,
		"-filter_complex", filter,
		"-r", fmt.Sprintf("%d", renderFPS),
		"-c:v", renderVCodec,
		"-preset", renderPreset,
		"-crf", fmt.Sprintf("%d", renderCRF),
		"-pix_fmt", renderPixFmt,
		"-c:a", renderACodec,
		"-b:a", audioBitrate,
		"-af", fmt.Sprintf("loudnorm=I=%g:TP=%g:LRA=%g", loudnormI, loudnormTP, loudnormLRA),
		"-movflags", renderMovFlag,
		outputPath,
	}
	return args
}

// BuildThumbnailArgs composes the FFmpeg invocation that grabs a single
// frame at atS from inputPath.
func BuildThumbnailArgs(inputPath string, atS float64, outputPath string) []string {
	return []string{
		"-y",
		"-ss", formatSeconds(atS),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", fmt.Sprintf("%d", thumbQuality),
		outputPath,
	}
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
