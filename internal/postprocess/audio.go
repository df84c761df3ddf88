package postprocess

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tetor-04/IDM-YT/internal/model"
)

// FFmpeg constants for audio extraction
const (
	FFmpegCommand = "ffmpeg"

	AudioFormat          = "mp3"
	DefaultAudioBitrate  = "192k"
	OutputExtensionMP3   = ".mp3"
	TranscodeUnavailable = "ffmpeg not found, keeping original audio container"
)

// Transcoder converts a downloaded media file into a target audio format
type Transcoder interface {
	// Available reports whether the transcoder can run on this host
	Available() bool

	// Transcode writes the audio of inputPath to outputPath at the given
	// bitrate, e.g. "192k"
	Transcode(ctx context.Context, inputPath, outputPath, bitrate string) error
}

// FFmpegTranscoder shells out to the ffmpeg binary
type FFmpegTranscoder struct{}

// Available reports whether ffmpeg is on PATH
func (FFmpegTranscoder) Available() bool {
	_, err := exec.LookPath(FFmpegCommand)
	return err == nil
}

// Transcode extracts the audio track to mp3
func (FFmpegTranscoder) Transcode(ctx context.Context, inputPath, outputPath, bitrate string) error {
	args := buildTranscodeArgs(inputPath, outputPath, bitrate)
	cmd := exec.CommandContext(ctx, FFmpegCommand, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		// Remove partial output file
		os.Remove(outputPath)
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(output))
	}
	return nil
}

// buildTranscodeArgs builds the ffmpeg command arguments
func buildTranscodeArgs(inputPath, outputPath, bitrate string) []string {
	return []string{
		"-y",            // Overwrite output file
		"-i", inputPath, // Input file
		"-vn",                // Drop video streams
		"-f", AudioFormat,    // Output container
		"-ab", bitrate,       // Audio bitrate
		"-nostats",           // No stats output
		outputPath,           // Output file
	}
}

// lastLine returns the final non-empty line of ffmpeg output, which is where
// ffmpeg puts its actual error
func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// AudioTranscodeStep converts the downloaded file to mp3. When the transcoder
// is unavailable the step degrades and the original container is kept.
type AudioTranscodeStep struct {
	Transcoder Transcoder
	Bitrate    string
}

// NewAudioTranscodeStep creates the step with the ffmpeg transcoder
func NewAudioTranscodeStep(bitrate string) *AudioTranscodeStep {
	if bitrate == "" {
		bitrate = DefaultAudioBitrate
	}
	return &AudioTranscodeStep{Transcoder: FFmpegTranscoder{}, Bitrate: bitrate}
}

// Kind implements Step
func (s *AudioTranscodeStep) Kind() model.PostStep {
	return model.PostAudioTranscode
}

// Run implements Step
func (s *AudioTranscodeStep) Run(ctx context.Context, in Input) (StepResult, error) {
	if !s.Transcoder.Available() {
		return StepResult{Degraded: true, Reason: TranscodeUnavailable}, nil
	}

	outputPath := replaceExt(in.RawPath, OutputExtensionMP3)
	if outputPath == in.RawPath {
		// Already an mp3, nothing to do
		return StepResult{Outputs: []string{in.RawPath}}, nil
	}

	if err := s.Transcoder.Transcode(ctx, in.RawPath, outputPath, s.Bitrate); err != nil {
		return StepResult{}, err
	}

	return StepResult{
		Outputs:   []string{outputPath},
		RemoveRaw: true,
	}, nil
}

// replaceExt swaps the file extension, keeping the rest of the path
func replaceExt(path, newExt string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + newExt
}

// removeFile deletes a file, logging nothing on failure; a leftover raw file
// is harmless
func removeFile(path string) {
	os.Remove(path)
}
