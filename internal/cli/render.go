package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/projection"
)

// writeProjection renders p for a terminal: the board and view, then either
// the groups with their cards or the flat card list.
func writeProjection(w io.Writer, p *projection.Projection) {
	board := p.Board()
	view := p.View()
	fmt.Fprintf(w, "Board: %s (%s)\n", board.Title, board.ID)

	viewType := block.ViewType("")
	if vf, ok := view.View(); ok {
		viewType = vf.ViewType
	}
	fmt.Fprintf(w, "View: %s (%s) [%s]\n", view.Title, view.ID, viewType)
	if s := p.Search(); s != "" {
		fmt.Fprintf(w, "Search: %q\n", s)
	}

	if p.Grouped() {
		propName := p.GroupByID()
		if bf, ok := board.Board(); ok {
			if t, ok := bf.Property(p.GroupByID()); ok {
				propName = t.Name
			}
		}
		fmt.Fprintf(w, "Grouped by: %s\n", propName)
		for _, g := range p.Groups() {
			writeGroup(w, g, propName)
		}
	} else {
		for _, c := range p.Cards() {
			fmt.Fprintf(w, "  - %s\n", cardLine(c))
		}
	}

	if calcs := p.Calculations(); len(calcs) > 0 {
		fmt.Fprintln(w, "Calculations:")
		for _, k := range sortedKeys(calcs) {
			fmt.Fprintf(w, "  %s: %s\n", k, calcs[k])
		}
	}
}

func writeGroup(w io.Writer, g projection.Group, propName string) {
	label := g.Option.Value
	if g.Option.ID == "" {
		label = "No " + propName
	}
	var flags []string
	if g.Hidden {
		flags = append(flags, "hidden")
	}
	if g.Collapsed {
		flags = append(flags, "collapsed")
	}
	suffix := ""
	if len(flags) > 0 {
		suffix = " [" + strings.Join(flags, ", ") + "]"
	}
	fmt.Fprintf(w, "  %s (%d)%s\n", label, len(g.Cards), suffix)
	for _, c := range g.Cards {
		fmt.Fprintf(w, "    - %s\n", cardLine(c))
	}
}

func cardLine(c block.Block) string {
	title := c.Title
	if title == "" {
		title = "Untitled"
	}
	return fmt.Sprintf("%s (%s)", title, c.ID)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
