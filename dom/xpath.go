package dom

import (
	"fmt"
	"strconv"
	"strings"
)

// XPath returns the positional path of n, e.g. /html/body/div[2]/form.
// A sibling index is only written when the parent has more than one child
// with the same tag; the shim computes paths with the same rule.
func (n *Node) XPath() string {
	if n.IsText() {
		if n.parent == nil {
			return ""
		}
		return n.parent.XPath() + "/text()"
	}
	if n.parent == nil {
		return "/" + n.tag
	}

	idx, total := 1, 0
	for _, sib := range n.parent.ElementChildren() {
		if sib.tag != n.tag {
			continue
		}
		total++
		if sib == n {
			idx = total
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s/%s[%d]", n.parent.XPath(), n.tag, idx)
	}
	return n.parent.XPath() + "/" + n.tag
}

// ByXPath resolves a positional path produced by XPath. A missing index
// means the first matching sibling. It returns nil when any step does not
// resolve.
func (d *Document) ByXPath(path string) *Node {
	steps := strings.Split(strings.Trim(path, "/"), "/")
	if len(steps) == 0 || steps[0] == "" {
		return nil
	}
	tag, _, err := parseStep(steps[0])
	if err != nil || tag != d.root.tag {
		return nil
	}
	cur := d.root
	for _, step := range steps[1:] {
		tag, idx, err := parseStep(step)
		if err != nil {
			return nil
		}
		var next *Node
		seen := 0
		for _, k := range cur.ElementChildren() {
			if k.tag != tag {
				continue
			}
			seen++
			if seen == idx {
				next = k
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func parseStep(step string) (string, int, error) {
	open := strings.IndexByte(step, '[')
	if open < 0 {
		return strings.ToLower(step), 1, nil
	}
	if !strings.HasSuffix(step, "]") {
		return "", 0, fmt.Errorf("dom: bad xpath step %q", step)
	}
	idx, err := strconv.Atoi(step[open+1 : len(step)-1])
	if err != nil || idx < 1 {
		return "", 0, fmt.Errorf("dom: bad xpath index %q", step)
	}
	return strings.ToLower(step[:open]), idx, nil
}
