package encoder

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// Profile is the fixed ffmpeg parameter set for one output format
type Profile struct {
	Format      models.OutputFormat
	VideoCodec  string
	PixelFormat string
	Args        []string
}

// bt709 tags primaries, transfer and matrix so players do not guess and shift colors
var bt709 = []string{
	"-color_primaries", "bt709",
	"-color_trc", "bt709",
	"-colorspace", "bt709",
}

var profiles = map[models.OutputFormat]Profile{
	models.FormatMP4: {
		Format:      models.FormatMP4,
		VideoCodec:  "libx264",
		PixelFormat: "yuv420p",
		Args: concat(
			[]string{
				// yuv420p needs even dimensions
				"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
				"-c:v", "libx264",
				"-pix_fmt", "yuv420p",
				"-preset", "slow",
				"-crf", "18",
				"-profile:v", "high",
				"-level", "4.0",
				"-movflags", "+faststart",
			},
			bt709,
			[]string{
				// Fixed GOP with no scene-cut keyframes keeps trimming and seeking predictable
				"-x264-params", "colorprim=bt709:transfer=bt709:colormatrix=bt709:force-cfr=1:keyint=48:min-keyint=48:no-scenecut=1",
			},
		),
	},
	models.FormatMOV: {
		Format:      models.FormatMOV,
		VideoCodec:  "prores_ks",
		PixelFormat: "yuv422p10le",
		Args: concat(
			[]string{
				"-c:v", "prores_ks",
				"-pix_fmt", "yuv422p10le",
				"-profile:v", "3",
				"-vendor", "apl0",
				"-qscale:v", "1",
			},
			bt709,
		),
	},
}

// ProfileFor returns a copy of the profile for format
func ProfileFor(format models.OutputFormat) (Profile, error) {
	p, ok := profiles[format]
	if !ok {
		return Profile{}, fmt.Errorf("no encoder profile for format %q", format)
	}
	p.Args = concat(p.Args)
	return p, nil
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
