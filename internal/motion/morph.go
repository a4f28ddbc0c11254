package motion

// Binary morphology over a packed 0/1 mask with a 3x3 structuring element.
// Erode then dilate (open) removes speckle noise; dilate then erode (close)
// fills small holes inside moving blobs.

func erode(mask []byte, w, h int) {
	out := make([]byte, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask[y*w+x] == 0 {
				continue
			}
			keep := true
			for dy := -1; dy <= 1 && keep; dy++ {
				for dx := -1; dx <= 1; dx++ {
					yy, xx := y+dy, x+dx
					if yy < 0 || yy >= h || xx < 0 || xx >= w || mask[yy*w+xx] == 0 {
						keep = false
						break
					}
				}
			}
			if keep {
				out[y*w+x] = 1
			}
		}
	}
	copy(mask, out)
}

func dilate(mask []byte, w, h int) {
	out := make([]byte, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask[y*w+x] == 0 {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					yy, xx := y+dy, x+dx
					if yy >= 0 && yy < h && xx >= 0 && xx < w {
						out[yy*w+xx] = 1
					}
				}
			}
		}
	}
	copy(mask, out)
}

func morphOpen(mask []byte, w, h int) {
	erode(mask, w, h)
	dilate(mask, w, h)
}

func morphClose(mask []byte, w, h int) {
	dilate(mask, w, h)
	erode(mask, w, h)
}

// extractRegions labels connected foreground components (8-connectivity)
// with an iterative flood fill and returns bounding boxes for those whose
// pixel area meets minArea, ordered by scan position.
func extractRegions(mask []byte, w, h, minArea int) []Region {
	visited := make([]bool, len(mask))
	var regions []Region
	var stack []int

	for start := range mask {
		if mask[start] == 0 || visited[start] {
			continue
		}

		minX, minY := w, h
		maxX, maxY := 0, 0
		area := 0

		stack = append(stack[:0], start)
		visited[start] = true

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := idx%w, idx/w
			area++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					yy, xx := y+dy, x+dx
					if yy < 0 || yy >= h || xx < 0 || xx >= w {
						continue
					}
					nidx := yy*w + xx
					if mask[nidx] == 1 && !visited[nidx] {
						visited[nidx] = true
						stack = append(stack, nidx)
					}
				}
			}
		}

		if area >= minArea {
			regions = append(regions, Region{
				X:      minX,
				Y:      minY,
				Width:  maxX - minX + 1,
				Height: maxY - minY + 1,
			})
		}
	}

	return regions
}
