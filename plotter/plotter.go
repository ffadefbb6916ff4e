package plotter

import (
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
)

const (
	ColorRed    = "red"
	ColorBlue   = "blue"
	ColorGreen  = "green"
	ColorOrange = "orange"
	ColorPurple = "purple"
	ColorGray   = "gray"
)

var ColorsPaletteMap = map[string]color.RGBA{
	ColorRed:    {R: 214, G: 39, B: 40, A: 255},
	ColorBlue:   {R: 31, G: 119, B: 180, A: 255},
	ColorGreen:  {R: 44, G: 160, B: 44, A: 255},
	ColorOrange: {R: 255, G: 127, B: 14, A: 255},
	ColorPurple: {R: 148, G: 103, B: 189, A: 255},
	ColorGray:   {R: 127, G: 127, B: 127, A: 255},
}

type GraphTitle struct {
	Text    string
	Padding vg.Length
	Style   *text.Style
}

type GraphConfig struct {
	Title           *GraphTitle
	XLabel, YLabel  string
	BackgroundColor color.Color
}

type GraphLabelPoint struct {
	Label  string
	Points plotter.XYer
}

type Graph struct {
	Plot *plot.Plot
}

func NewGraph(config *GraphConfig) *Graph {
	p := plot.New()

	if config == nil {
		return &Graph{Plot: p}
	}

	if config.Title != nil {
		p.Title.Text = config.Title.Text
		p.Title.Padding = config.Title.Padding
		if config.Title.Style != nil {
			p.Title.TextStyle = *config.Title.Style
		}
	}
	p.X.Label.Text = config.XLabel
	p.Y.Label.Text = config.YLabel
	if config.BackgroundColor != nil {
		p.BackgroundColor = config.BackgroundColor
	}
	return &Graph{Plot: p}
}

func (g *Graph) GetColor(name string) color.RGBA {
	if c, ok := ColorsPaletteMap[name]; ok {
		return c
	}
	return ColorsPaletteMap[ColorBlue]
}

func (g *Graph) Save(width, height vg.Length, filename string) error {
	return g.Plot.Save(width, height, filename)
}

func (g *Graph) InsertComponent(components ...plot.Plotter) {
	g.Plot.Add(components...)
}

func (g *Graph) InsertLinePoints(points ...GraphLabelPoint) error {
	for _, lp := range points {
		if err := plotutil.AddLinePoints(g.Plot, lp.Label, lp.Points); err != nil {
			return err
		}
	}
	return nil
}

// Sample is one benchmark run: how many items went through a queue of the
// given capacity and how long it took.
type Sample struct {
	Capacity  int
	Items     int
	ElapsedMs float64
}

// ItemsPerMs is zero for runs too fast to time.
func (s Sample) ItemsPerMs() float64 {
	if s.ElapsedMs <= 0 {
		return 0
	}
	return float64(s.Items) / s.ElapsedMs
}

// ThroughputPoints maps samples to (capacity, items/ms), ordered by capacity.
func ThroughputPoints(samples []Sample) plotter.XYs {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Capacity < sorted[j].Capacity })

	pts := make(plotter.XYs, len(sorted))
	for i, s := range sorted {
		pts[i].X = float64(s.Capacity)
		pts[i].Y = s.ItemsPerMs()
	}
	return pts
}
