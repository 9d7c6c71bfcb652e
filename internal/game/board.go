package game

// Point is a single intersection on the board. Color is empty for
// unoccupied points. Counted and CountsFor are only meaningful during
// and after scoring.
type Point struct {
	Color      Color `json:"color"`
	MarkedDead bool  `json:"markedDead"`
	Counted    bool  `json:"counted"`
	CountsFor  Color `json:"countsFor"`
}

// Board is a square grid of points. Points is indexed [row][column].
type Board struct {
	Size   int       `json:"size"`
	Points [][]Point `json:"points"`
}

// NewBoard returns an empty board with the given side length.
func NewBoard(size int) *Board {
	points := make([][]Point, size)
	for i := range points {
		points[i] = make([]Point, size)
	}
	return &Board{Size: size, Points: points}
}

// At returns a pointer to the point at (i, j).
func (b *Board) At(i, j int) *Point {
	return &b.Points[i][j]
}

// Clone returns a deep copy of the board. Points are value types, so a
// row copy suffices. A naive generic deep copy of the board was the
// single most expensive operation in the original server under
// profiling, hence the explicit implementation.
func (b *Board) Clone() *Board {
	points := make([][]Point, b.Size)
	for i, row := range b.Points {
		points[i] = make([]Point, b.Size)
		copy(points[i], row)
	}
	return &Board{Size: b.Size, Points: points}
}

// ColorsEqual compares only stone colors, which is all that matters for
// detecting simple ko.
func (b *Board) ColorsEqual(o *Board) bool {
	if o == nil || b.Size != o.Size {
		return false
	}
	for i := range b.Points {
		for j := range b.Points[i] {
			if b.Points[i][j].Color != o.Points[i][j].Color {
				return false
			}
		}
	}
	return true
}
