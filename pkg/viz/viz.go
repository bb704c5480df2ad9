// Package viz renders a session's savepoint history as an SVG graph: each
// savepoint in timestamp order, chained through to the live canvas.
package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/kristofsajdak/claude-whiteboard/pkg/canvas"
	"github.com/kristofsajdak/claude-whiteboard/pkg/store"
)

// RenderHistoryToSvg draws the savepoint chain for session, terminating at a
// node for the current document.
func RenderHistoryToSvg(session string, savepoints []store.Savepoint, current canvas.Document) ([]byte, error) {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return nil, fmt.Errorf("failed to setup graph: %w", err)
	}

	var prev *cgraph.Node
	var edgeCounter int
	for _, sp := range savepoints {
		n, err := graph.CreateNode("savepoint:" + sp.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("%s\n%s", sp.Name, sp.Timestamp.Format(time.RFC3339)))
		if prev != nil {
			edgeCounter++
			if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), prev, n); err != nil {
				return nil, fmt.Errorf("failed to create edge: %w", err)
			}
		}
		prev = n
	}

	live := 0
	for _, el := range current.Elements {
		if !el.Deleted {
			live++
		}
	}
	head, err := graph.CreateNode("current")
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	head.SetLabel(fmt.Sprintf("%s (current)\n%d elements", session, live))
	head.SetShape(cgraph.BoxShape)
	if prev != nil {
		edgeCounter++
		if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), prev, head); err != nil {
			return nil, fmt.Errorf("failed to create edge: %w", err)
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return nil, fmt.Errorf("failed to render: %w", err)
	}
	return buff.Bytes(), nil
}

// RenderHistoryToTemp writes the history graph to a fresh SVG file in the
// temp dir and returns its path.
func RenderHistoryToTemp(session string, savepoints []store.Savepoint, current canvas.Document) (string, error) {
	data, err := RenderHistoryToSvg(session, savepoints, current)
	if err != nil {
		return "", err
	}
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("history-%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := os.WriteFile(tf, data, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to write")
	}
	return tf, nil
}
