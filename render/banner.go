package render

import (
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"

	"github.com/swdee/go-roadsense/fusion"
	"github.com/swdee/go-roadsense/traffic"
)

// Banners renders the warning banner above the image and the frame info
// banner below it.  Both banners are stacked onto the image so its height
// grows, call this after all box and mask rendering is done.
func Banners(img *gocv.Mat, sem traffic.Semantics, res *fusion.FrameResult,
	style Style) {

	warnings := sem.Warnings()

	if len(warnings) > 0 {

		banner := gocv.NewMatWithSizeFromScalar(bgrScalar(style.WarningBG),
			style.BannerHeight*len(warnings), img.Cols(), gocv.MatTypeCV8UC3)

		for i, text := range warnings {
			bannerText(&banner, text, 10, style.BannerHeight*(i+1)-12,
				0.7, 2, style)
		}

		joined := gocv.NewMat()
		gocv.Vconcat(banner, *img, &joined)
		joined.CopyTo(img)

		joined.Close()
		banner.Close()
	}

	items := sem.InfoItems(res)

	if len(items) > 0 {

		banner := gocv.NewMatWithSizeFromScalar(bgrScalar(style.InfoBG),
			style.BannerHeight, img.Cols(), gocv.MatTypeCV8UC3)

		bannerText(&banner, strings.Join(items, " | "), 10, 28, 0.5, 1, style)

		joined := gocv.NewMat()
		gocv.Vconcat(*img, banner, &joined)
		joined.CopyTo(img)

		joined.Close()
		banner.Close()
	}
}

// bannerText writes one line of banner text, using the loaded TTF face when
// the style carries one and the Hershey font otherwise
func bannerText(banner *gocv.Mat, text string, x, y int, scale float64,
	thickness int, style Style) {

	if style.Face != nil {
		if err := faceText(banner, style.Face, text, x, y, White); err == nil {
			return
		}
		// fall through to the hershey font when face drawing fails
	}

	gocv.PutTextWithParams(banner, text, image.Pt(x, y),
		gocv.FontHersheySimplex, scale, White, thickness, gocv.LineAA, false)
}

// bgrScalar converts an RGBA color to a gocv scalar in BGR channel order
func bgrScalar(clr color.RGBA) gocv.Scalar {
	return gocv.NewScalar(float64(clr.B), float64(clr.G), float64(clr.R), 0)
}
