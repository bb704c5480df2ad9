// Package render rasterizes a canvas document to PNG on the server side,
// for the export endpoint and the shutdown dump.
package render

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/fogleman/gg"

	"github.com/kristofsajdak/claude-whiteboard/pkg/canvas"
)

const padding = 40

// ToPNG draws all non-deleted elements onto a white background sized to the
// document's bounding box and returns the encoded image.
func ToPNG(doc canvas.Document) ([]byte, error) {
	minX, minY, maxX, maxY := bounds(doc)
	width := int(math.Ceil(maxX-minX)) + 2*padding
	height := int(math.Ceil(maxY-minY)) + 2*padding

	dc := gg.NewContext(width, height)
	dc.SetHexColor("#ffffff")
	dc.Clear()
	dc.Translate(padding-minX, padding-minY)

	for _, el := range doc.Elements {
		if el.Deleted {
			continue
		}
		drawElement(dc, el)
	}

	var buff bytes.Buffer
	if err := dc.EncodePNG(&buff); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buff.Bytes(), nil
}

// ToTempFile renders the document to a fresh file in the temp dir and
// returns its path.
func ToTempFile(doc canvas.Document) (string, error) {
	data, err := ToPNG(doc)
	if err != nil {
		return "", err
	}
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("canvas-%d%d.png", time.Now().UnixNano(), rand.Int()))
	if err := os.WriteFile(tf, data, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to write png: %w", err)
	}
	return tf, nil
}

func bounds(doc canvas.Document) (minX, minY, maxX, maxY float64) {
	minX, minY = 0, 0
	maxX, maxY = 200, 200
	for _, el := range doc.Elements {
		if el.Deleted {
			continue
		}
		minX = math.Min(minX, el.X)
		minY = math.Min(minY, el.Y)
		maxX = math.Max(maxX, el.X+el.Width)
		maxY = math.Max(maxY, el.Y+el.Height)
	}
	return
}

func drawElement(dc *gg.Context, el canvas.Element) {
	stroke := stringField(el, "strokeColor", "#1e1e1e")
	fill := stringField(el, "backgroundColor", "")

	switch el.Type {
	case "ellipse":
		dc.DrawEllipse(el.X+el.Width/2, el.Y+el.Height/2, el.Width/2, el.Height/2)
	case "diamond":
		dc.MoveTo(el.X+el.Width/2, el.Y)
		dc.LineTo(el.X+el.Width, el.Y+el.Height/2)
		dc.LineTo(el.X+el.Width/2, el.Y+el.Height)
		dc.LineTo(el.X, el.Y+el.Height/2)
		dc.ClosePath()
	case "line", "arrow":
		dc.MoveTo(el.X, el.Y)
		dc.LineTo(el.X+el.Width, el.Y+el.Height)
	case "text":
		dc.SetHexColor(stroke)
		dc.DrawString(stringField(el, "text", ""), el.X, el.Y+el.Height)
		return
	default:
		// rectangle, freedraw and anything unknown get their bounding box
		dc.DrawRectangle(el.X, el.Y, el.Width, el.Height)
	}

	if fill != "" && fill != "transparent" {
		dc.SetHexColor(fill)
		dc.FillPreserve()
	}
	dc.SetHexColor(stroke)
	dc.SetLineWidth(2)
	dc.Stroke()
}

func stringField(el canvas.Element, key, fallback string) string {
	if v, ok := el.Extra[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
