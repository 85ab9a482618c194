package geo

// Resample walks path and emits a point every spacing meters, always keeping
// the first and last vertex. When the result would exceed maxPoints it is
// thinned evenly, still keeping both endpoints.
func Resample(path []Coordinate, spacing float64, maxPoints int) []Coordinate {
	if len(path) == 0 {
		return nil
	}
	if len(path) == 1 || spacing <= 0 {
		return thin(path, maxPoints)
	}

	out := []Coordinate{path[0]}
	carried := 0.0

	for i := 1; i < len(path); i++ {
		from, to := path[i-1], path[i]
		seg := Distance(from, to)
		if seg == 0 {
			continue
		}

		pos := spacing - carried
		for pos <= seg {
			f := pos / seg
			out = append(out, Coordinate{
				Lat: from.Lat + f*(to.Lat-from.Lat),
				Lon: from.Lon + f*(to.Lon-from.Lon),
			})
			pos += spacing
		}
		carried = seg - (pos - spacing)
	}

	last := path[len(path)-1]
	if out[len(out)-1] != last {
		out = append(out, last)
	}

	return thin(out, maxPoints)
}

func thin(path []Coordinate, maxPoints int) []Coordinate {
	if maxPoints < 2 || len(path) <= maxPoints {
		return path
	}

	out := make([]Coordinate, maxPoints)
	step := float64(len(path)-1) / float64(maxPoints-1)
	for i := 0; i < maxPoints; i++ {
		out[i] = path[int(float64(i)*step+0.5)]
	}
	out[maxPoints-1] = path[len(path)-1]
	return out
}
