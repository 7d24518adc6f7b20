package differ

import "github.com/ramfiaogusto/watchtower/internal/core"

type rawLine struct {
	kind core.HunkKind
	text string
}

// lcsHunks computes the ordered edit script between oldLines and newLines
// using a classic dynamic-programming longest-common-subsequence table, then
// collapses consecutive same-kind lines into single hunks.
//
// This is a standard textbook algorithm (O(n*m) time and space); no
// third-party diff library in the dependency set operates at the line level
// with this exact added/removed/unchanged hunk shape, so it is implemented
// directly rather than imported.
func lcsHunks(oldLines, newLines []string) []core.Hunk {
	n, m := len(oldLines), len(newLines)

	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if oldLines[i] == newLines[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else if table[i+1][j] >= table[i][j+1] {
				table[i][j] = table[i+1][j]
			} else {
				table[i][j] = table[i][j+1]
			}
		}
	}

	var raw []rawLine

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case oldLines[i] == newLines[j]:
			raw = append(raw, rawLine{core.HunkUnchanged, newLines[j]})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			raw = append(raw, rawLine{core.HunkRemoved, oldLines[i]})
			i++
		default:
			raw = append(raw, rawLine{core.HunkAdded, newLines[j]})
			j++
		}
	}
	for ; i < n; i++ {
		raw = append(raw, rawLine{core.HunkRemoved, oldLines[i]})
	}
	for ; j < m; j++ {
		raw = append(raw, rawLine{core.HunkAdded, newLines[j]})
	}

	return collapse(raw)
}

// collapse merges consecutive lines of the same kind into a single hunk,
// joining their text with newlines and counting the lines each hunk spans.
func collapse(raw []rawLine) []core.Hunk {
	if len(raw) == 0 {
		return nil
	}

	var hunks []core.Hunk
	cur := core.Hunk{Kind: raw[0].kind, Text: raw[0].text, LineCount: 1}

	for _, rl := range raw[1:] {
		if rl.kind == cur.Kind {
			cur.Text += "\n" + rl.text
			cur.LineCount++
			continue
		}
		hunks = append(hunks, cur)
		cur = core.Hunk{Kind: rl.kind, Text: rl.text, LineCount: 1}
	}
	hunks = append(hunks, cur)
	return hunks
}
