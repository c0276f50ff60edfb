package facematch

// RelativeBox converts a pixel box [x1, y1, x2, y2] to relative [x, y, w, h]
// coordinates (0-1) of a width×height image. Invalid input is returned unchanged.
func RelativeBox(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	x1 := bbox[0] / float64(width)
	y1 := bbox[1] / float64(height)
	x2 := bbox[2] / float64(width)
	y2 := bbox[3] / float64(height)
	return []float64{x1, y1, x2 - x1, y2 - y1}
}
