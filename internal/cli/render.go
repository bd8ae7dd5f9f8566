package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/replica/internal/document"
	"github.com/roach88/replica/internal/handlers"
)

// textResult wraps known handler results in a TextRenderer for text
// output. Anything else is returned as is.
func textResult(result any) any {
	switch v := result.(type) {
	case *handlers.NodeView:
		if v == nil {
			return "(none)"
		}
		return nodeText{*v}
	case handlers.NodeView:
		return nodeText{v}
	case []handlers.NodeView:
		return nodeText(v)
	case *document.View:
		if v == nil {
			return "(none)"
		}
		return documentText(*v)
	case []handlers.FailedMutationView:
		return failedText(v)
	}
	return result
}

type nodeText []handlers.NodeView

func (nodes nodeText) RenderText(w io.Writer) error {
	if len(nodes) == 0 {
		_, err := fmt.Fprintln(w, "(none)")
		return err
	}
	for _, n := range nodes {
		if _, err := fmt.Fprintf(w, "%s  %s  index=%s\n", n.ID, n.Type, n.Index); err != nil {
			return err
		}
		for _, k := range slices.Sorted(maps.Keys(n.Attributes)) {
			if _, err := fmt.Fprintf(w, "  %s: %v\n", k, n.Attributes[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

type documentText document.View

func (d documentText) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "document %s (%d blocks)\n", d.ID, len(d.Blocks)); err != nil {
		return err
	}
	for _, b := range d.Blocks {
		indent := strings.Repeat("  ", b.Depth+1)
		if _, err := fmt.Fprintf(w, "%s[%s] %s\n", indent, b.Type, b.Text); err != nil {
			return err
		}
	}
	if len(d.Orphans) > 0 {
		if _, err := fmt.Fprintf(w, "orphans: %d\n", len(d.Orphans)); err != nil {
			return err
		}
	}
	return nil
}

type failedText []handlers.FailedMutationView

func (f failedText) RenderText(w io.Writer) error {
	if len(f) == 0 {
		_, err := fmt.Fprintln(w, "No failed mutations")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tFAILED AT")
	for _, m := range f {
		fmt.Fprintf(tw, "%s\t%s\t%d %s\t%s\n", m.ID, m.Type, m.Status, m.StatusText, m.FailedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
