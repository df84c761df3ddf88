// Package postprocess runs optional steps on a finished download: audio
// transcoding, subtitle extraction and thumbnail saving. A failing step
// degrades the job instead of failing it; the raw media file is always
// preserved when any step degrades.
package postprocess
