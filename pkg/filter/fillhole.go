package filter

import (
	"ctalign/pkg/volume"
)

// FillHole turns every background region that is not connected to the
// image border into foreground. Background connectivity is face (6)
// connectivity, or full (26) connectivity when fullyConnected is set.
func FillHole(mask *volume.Image, fg float64, fullyConnected bool) *volume.Image {
	nx, ny, nz := mask.Size[0], mask.Size[1], mask.Size[2]
	reached := make([]bool, len(mask.Data))
	queue := make([]int, 0, 2*(nx*ny+ny*nz+nx*nz))

	visit := func(i int) {
		if !reached[i] && !isFg(mask.Data[i], fg) {
			reached[i] = true
			queue = append(queue, i)
		}
	}

	// Seed with every background voxel on the border.
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				if x == 0 || y == 0 || z == 0 || x == nx-1 || y == ny-1 || z == nz-1 {
					visit(mask.Index(x, y, z))
				}
			}
		}
	}

	neighbors := faceNeighbors
	if fullyConnected {
		neighbors = fullNeighbors
	}

	for head := 0; head < len(queue); head++ {
		x, y, z := mask.Coords(queue[head])
		for _, o := range neighbors {
			px, py, pz := x+o[0], y+o[1], z+o[2]
			if px < 0 || py < 0 || pz < 0 || px >= nx || py >= ny || pz >= nz {
				continue
			}
			visit(mask.Index(px, py, pz))
		}
	}

	out := volume.NewLike(mask, mask.PixelType)
	for i, v := range mask.Data {
		if isFg(v, fg) || !reached[i] {
			out.Data[i] = fg
		}
	}
	return out
}

var faceNeighbors = [][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

var fullNeighbors = func() [][3]int {
	var out [][3]int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 || dz != 0 {
					out = append(out, [3]int{dx, dy, dz})
				}
			}
		}
	}
	return out
}()
