package media

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	maxDimension = 1000
	jpegQuality  = 80
)

// transform decodes data, shrinks it to fit within maxDimension on both
// sides without cropping, and re-encodes it. PNG stays PNG so transparency
// survives; everything else becomes JPEG.
func transform(data []byte) (encoded []byte, ext, contentType string, err error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", "", ErrUnsupportedImage
	}

	img := fit(src, maxDimension)

	var buf bytes.Buffer
	if format == "png" {
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), "png", "image/png", nil
	}

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", "", err
	}
	return buf.Bytes(), "jpg", "image/jpeg", nil
}

func fit(src image.Image, limit int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= limit && h <= limit {
		return src
	}

	nw, nh := limit, limit
	if w >= h {
		nh = max(1, h*limit/w)
	} else {
		nw = max(1, w*limit/h)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
