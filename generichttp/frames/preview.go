// this file renders 8 bit previews of frames
package frames

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/url"
	"strconv"

	"github.com/disintegration/gift"

	"github.com/xtal-tools/dxlab/ndarray"
)

// previewOpts are the query parameters of a png or jpg preview
type previewOpts struct {
	// rot is the counterclockwise rotation in degrees
	rot int

	// width is the output width in pixels, 0 to keep the frame size
	width int
}

func parsePreviewOpts(q url.Values) (previewOpts, error) {
	var (
		p   previewOpts
		err error
	)
	if s := q.Get("rot"); s != "" {
		p.rot, err = strconv.Atoi(s)
		if err != nil || p.rot%90 != 0 {
			return p, fmt.Errorf("rot %q must be a multiple of 90", s)
		}
		p.rot = ((p.rot % 360) + 360) % 360
	}
	if s := q.Get("width"); s != "" {
		p.width, err = strconv.Atoi(s)
		if err != nil || p.width < 0 {
			return p, fmt.Errorf("width %q must be a non-negative integer", s)
		}
	}
	return p, nil
}

func (p previewOpts) filter() *gift.GIFT {
	g := gift.New()
	switch p.rot {
	case 90:
		g.Add(gift.Rotate90())
	case 180:
		g.Add(gift.Rotate180())
	case 270:
		g.Add(gift.Rotate270())
	}
	if p.width > 0 {
		g.Add(gift.Resize(p.width, 0, gift.LinearResampling))
	}
	return g
}

// grayscale scales a 2D frame linearly onto 0-255.  Negative values, the
// overload and mask flags, are drawn black.
func grayscale(arr *ndarray.Array) (*image.Gray, error) {
	shape := arr.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: previews need a 2D frame, have %v", ErrBadFormat, shape)
	}
	height, width := shape[0], shape[1]
	top := 0.
	arr.Each(func(idx []int) {
		if v := arr.Float(idx...); v > top {
			top = v
		}
	})
	if top == 0 {
		top = 1
	}
	im := image.NewGray(image.Rect(0, 0, width, height))
	arr.Each(func(idx []int) {
		v := arr.Float(idx...)
		if v < 0 {
			v = 0
		}
		im.Pix[idx[0]*im.Stride+idx[1]] = byte(v * 255 / top)
	})
	return im, nil
}

// writePreview encodes arr as a png or jpeg image
func writePreview(w io.Writer, format string, arr *ndarray.Array, p previewOpts) (string, error) {
	src, err := grayscale(arr)
	if err != nil {
		return "", err
	}
	g := p.filter()
	dst := image.NewGray(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	if format == "png" {
		return "image/png", png.Encode(w, dst)
	}
	return "image/jpeg", jpeg.Encode(w, dst, nil)
}
