package page

// BuildOptions tunes snapshot construction.
type BuildOptions struct {
	// MaxElements caps the number of elements kept, 0 means unlimited. The
	// cap is applied after filtering, preserving traversal order.
	MaxElements int
	// URL and Title annotate the snapshot with the page the traversal came
	// from.
	URL   string
	Title string
}

// Build turns a raw depth-first candidate traversal into a filtered snapshot,
// starting a new reference-table generation as a side effect. Candidates are
// excluded, in order, when they are marked as agent UI, not currently
// visible, or not interactive by the recognized criteria. Surviving elements
// keep traversal order, so re-running Build on an unchanged traversal yields
// identical reference assignment.
func Build(table *RefTable, candidates []Candidate, opts BuildOptions) Snapshot {
	gen := table.BeginGeneration()
	snap := Snapshot{
		Generation: gen,
		URL:        opts.URL,
		Title:      opts.Title,
		Tree:       make([]ElementNode, 0, len(candidates)),
	}
	for _, c := range candidates {
		if opts.MaxElements > 0 && len(snap.Tree) >= opts.MaxElements {
			break
		}
		if c.AgentUI {
			continue
		}
		if !c.visible() {
			continue
		}
		if !c.interactive() {
			continue
		}
		snap.Tree = append(snap.Tree, table.Assign(c))
	}
	return snap
}
