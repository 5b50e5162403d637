package parser

// Rect is an axis-aligned box in image pixels. The origin is the top-left
// corner of the image and Y grows downward.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) MinX() float64 { return r.X }
func (r Rect) MaxX() float64 { return r.X + r.Width }
func (r Rect) MinY() float64 { return r.Y }
func (r Rect) MaxY() float64 { return r.Y + r.Height }
func (r Rect) MidX() float64 { return r.X + r.Width/2 }
func (r Rect) MidY() float64 { return r.Y + r.Height/2 }

// Size is the pixel size of the image the observations came from.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Observation is one line of recognized text.
type Observation struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// elevation is the normalized height of the box's bottom edge above the
// bottom of the image: 0 at the bottom, 1 at the top.
func elevation(box Rect, size Size) float64 {
	return 1 - box.MaxY()/size.Height
}
