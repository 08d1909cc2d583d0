package media

import (
	"bytes"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

// downscale fits JPEG and PNG images inside a maxSide square. It reports
// false when data is left as is: other formats, undecodable input, images
// already small enough, or a re-encode that came out larger.
func downscale(data []byte, mimetype string, maxSide int) ([]byte, bool) {
	var format imaging.Format
	switch mimetype {
	case "image/jpeg":
		format = imaging.JPEG
	case "image/png":
		format = imaging.PNG
	default:
		return nil, false
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || (cfg.Width <= maxSide && cfg.Height <= maxSide) {
		return nil, false
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false
	}
	img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)

	var out bytes.Buffer
	opts := []imaging.EncodeOption{imaging.JPEGQuality(85), imaging.PNGCompressionLevel(png.BestCompression)}
	if err := imaging.Encode(&out, img, format, opts...); err != nil {
		return nil, false
	}
	if out.Len() >= len(data) {
		return nil, false
	}
	return out.Bytes(), true
}
