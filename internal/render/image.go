package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ernie/synapse/internal/domain"
)

// Tile palette matching the puzzle's category colors
var (
	tileColors = [domain.NumCategories]color.RGBA{
		{R: 0xF9, G: 0xDF, B: 0x6D, A: 0xFF}, // yellow
		{R: 0xA0, G: 0xC3, B: 0x5A, A: 0xFF}, // green
		{R: 0xB0, G: 0xC4, B: 0xEF, A: 0xFF}, // blue
		{R: 0xBA, G: 0x81, B: 0xC5, A: 0xFF}, // purple
	}
	unknownTile = color.RGBA{R: 0x5A, G: 0x59, B: 0x4E, A: 0xFF}
	background  = color.RGBA{R: 0x2B, G: 0x2D, B: 0x31, A: 0xFF}
	labelColor  = color.RGBA{R: 0xF2, G: 0xF3, B: 0xF5, A: 0xFF}
)

const (
	tileSize    = 14
	tileGap     = 3
	columnGap   = 18
	labelHeight = 16
	margin      = 12
	scaleFactor = 2
)

func tileColor(g domain.Guess, i int) color.RGBA {
	if g.Correct && g.Difficulty != nil && *g.Difficulty >= 0 && *g.Difficulty < domain.NumCategories {
		return tileColors[*g.Difficulty]
	}
	if i < len(g.WordDifficulties) {
		if d := g.WordDifficulties[i]; d >= 0 && d < domain.NumCategories {
			return tileColors[d]
		}
	}
	return unknownTile
}

// ProgressImage renders every player's guess grid side by side as a PNG.
// Returns nil when there is nothing to draw yet.
func ProgressImage(sess *domain.MessageSession) ([]byte, error) {
	players := sortedPlayers(sess)
	if len(players) == 0 {
		return nil, nil
	}

	maxRows := 0
	for _, p := range players {
		if len(p.GuessHistory) > maxRows {
			maxRows = len(p.GuessHistory)
		}
	}
	if maxRows == 0 {
		return nil, nil
	}

	columnWidth := domain.WordsPerGuess*tileSize + (domain.WordsPerGuess-1)*tileGap
	width := 2*margin + len(players)*columnWidth + (len(players)-1)*columnGap
	height := 2*margin + labelHeight + maxRows*(tileSize+tileGap) - tileGap

	base := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(base, base.Bounds(), background)

	for col, p := range players {
		x0 := margin + col*(columnWidth+columnGap)
		drawLabel(base, x0, margin+labelHeight-4, p.Username, columnWidth)

		for row, g := range p.GuessHistory {
			y0 := margin + labelHeight + row*(tileSize+tileGap)
			for i := 0; i < domain.WordsPerGuess; i++ {
				x := x0 + i*(tileSize+tileGap)
				fill(base, image.Rect(x, y0, x+tileSize, y0+tileSize), tileColor(g, i))
			}
		}
	}

	// Scale up with nearest neighbor to keep the tile edges crisp
	scaled := image.NewRGBA(image.Rect(0, 0, width*scaleFactor, height*scaleFactor))
	xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), base, base.Bounds(), xdraw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawLabel writes a username above a grid column, truncated to fit
func drawLabel(img *image.RGBA, x, y int, text string, maxWidth int) {
	face := basicfont.Face7x13
	maxChars := maxWidth / face.Advance
	if maxChars < 1 {
		return
	}
	runes := []rune(text)
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(string(runes))
}
