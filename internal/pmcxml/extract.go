// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pmcxml

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/biokb/proteinkb/internal/triage"
	"github.com/biokb/proteinkb/pkg/types"
)

// node is one element of a parsed XML tree. Matching is by local name
// so namespaced and namespace-free documents walk identically. Text is
// kept as child nodes with an empty name to preserve ordering between
// text and elements.
type node struct {
	name  string
	attrs map[string]string
	text  string
	kids  []*node
}

// parseTree builds the node tree from an XML document. The decoder runs
// in permissive mode: HTML-derived artifacts carry named entities and
// unclosed void elements that strict XML rejects.
func parseTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	root := &node{}
	stack := []*node{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			top.kids = append(top.kids, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			top.kids = append(top.kids, &node{text: string(t)})
		}
	}
	if len(root.kids) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}

// walk visits every element node in document order.
func (n *node) walk(fn func(*node)) {
	if n.name != "" {
		fn(n)
	}
	for _, k := range n.kids {
		k.walk(fn)
	}
}

// descendants returns every descendant element with the given local
// name, in document order, including n itself when it matches.
func (n *node) descendants(name string) []*node {
	var out []*node
	n.walk(func(el *node) {
		if el.name == name {
			out = append(out, el)
		}
	})
	return out
}

func (n *node) firstDescendant(name string) *node {
	if ds := n.descendants(name); len(ds) > 0 {
		return ds[0]
	}
	return nil
}

// children returns direct child elements with the given local name.
func (n *node) children(names ...string) []*node {
	var out []*node
	for _, k := range n.kids {
		for _, name := range names {
			if k.name == name {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// textContent concatenates all text beneath the node with whitespace
// collapsed.
func (n *node) textContent() string {
	var sb strings.Builder
	var rec func(*node)
	rec = func(el *node) {
		sb.WriteString(el.text)
		for _, k := range el.kids {
			rec(k)
		}
	}
	rec(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// headerCells returns the header row of a table: the last row of thead
// when present, otherwise the first row of the body.
func headerCells(tbl *node) []string {
	if thead := tbl.firstDescendant("thead"); thead != nil {
		if rows := thead.descendants("tr"); len(rows) > 0 {
			if cells := rows[len(rows)-1].children("th", "td"); len(cells) > 0 {
				return cellTexts(cells)
			}
		}
	}
	var firstRow *node
	if tbody := tbl.firstDescendant("tbody"); tbody != nil {
		if rows := tbody.children("tr"); len(rows) > 0 {
			firstRow = rows[0]
		}
	} else if rows := tbl.children("tr"); len(rows) > 0 {
		firstRow = rows[0]
	}
	if firstRow == nil {
		return nil
	}
	return cellTexts(firstRow.children("th", "td"))
}

// bodyRows returns the data rows. With a tbody every row is data (the
// header came from thead); without one the first row is the header and
// is skipped.
func bodyRows(tbl *node) [][]string {
	var rows [][]string
	if tbody := tbl.firstDescendant("tbody"); tbody != nil {
		for _, tr := range tbody.children("tr") {
			rows = append(rows, cellTexts(tr.children("td", "th")))
		}
		return rows
	}
	trs := tbl.children("tr")
	if len(trs) == 0 {
		trs = tbl.descendants("tr")
	}
	for i, tr := range trs {
		if i == 0 {
			continue
		}
		rows = append(rows, cellTexts(tr.children("td", "th")))
	}
	return rows
}

func cellTexts(cells []*node) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.textContent()
	}
	return out
}

// columnMap is the canonical interpretation of a table's header row.
type columnMap struct {
	headers     []string
	canonByIdx  []string
	unitByCanon map[string]string
}

func mapHeaders(headers []string) columnMap {
	cm := columnMap{
		headers:     make([]string, len(headers)),
		canonByIdx:  make([]string, len(headers)),
		unitByCanon: make(map[string]string),
	}
	for i, h := range headers {
		cm.headers[i] = strings.TrimSpace(h)
		canon := NormalizeHeaderName(h)
		cm.canonByIdx[i] = canon
		if _, seen := cm.unitByCanon[canon]; !seen {
			cm.unitByCanon[canon] = parseUnitsFromHeader(cm.headers[i])
		}
	}
	return cm
}

// Extractor turns table XML into outcome records for one query protein.
type Extractor struct {
	Protein types.Protein
}

type metricCol struct {
	idx   int
	canon string
}

// ExtractTable extracts the records of one table-wrap (or bare table)
// element. Tables with fewer than two columns, no data rows, or no
// recognizable metric column yield nothing.
func (e *Extractor) ExtractTable(wrap *node, src types.RecordSource) []types.OutcomeRecord {
	tbl := wrap
	if wrap.name != "table" {
		if t := wrap.firstDescendant("table"); t != nil {
			tbl = t
		}
	}
	headers := headerCells(tbl)
	if len(headers) < 2 {
		return nil
	}
	cm := mapHeaders(headers)
	rows := bodyRows(tbl)
	if len(rows) == 0 {
		return nil
	}

	src.TableID = wrap.attrs["id"]
	src.Caption = tableCaption(wrap, tbl)

	var variantCols []int
	var condCols []metricCol
	var metricCols []metricCol
	for i, canon := range cm.canonByIdx {
		switch {
		case canon == "Variant":
			variantCols = append(variantCols, i)
		case canon == "pH" || canon == "Temperature":
			condCols = append(condCols, metricCol{i, canon})
		case assayTypeByEndpoint[canon] != "":
			metricCols = append(metricCols, metricCol{i, canon})
		}
	}

	// A kinetics table sometimes hides its metrics behind footnote
	// markers; when the caption says kinetic, re-check the last two
	// columns.
	if len(metricCols) == 0 && captionSaysKinetic(src.Caption) {
		start := len(cm.headers) - 2
		if start < 0 {
			start = 0
		}
		for i := start; i < len(cm.headers); i++ {
			if canon := NormalizeHeaderName(cm.headers[i]); assayTypeByEndpoint[canon] != "" {
				metricCols = append(metricCols, metricCol{i, canon})
			}
		}
	}
	if len(metricCols) == 0 {
		return nil
	}

	var out []types.OutcomeRecord
	wtBaseline := make(map[string]float64)
	for _, cells := range rows {
		if len(cells) == 0 {
			continue
		}
		for len(cells) < len(cm.headers) {
			cells = append(cells, "")
		}

		variantText := pickVariantText(cells, variantCols)

		if isWT(variantText) {
			// Baseline row: record its values, emit nothing.
			for _, mc := range metricCols {
				if mc.idx >= len(cells) {
					continue
				}
				if val, _, qual := ParseValueWithError(cells[mc.idx]); val != nil && qual == "" {
					wtBaseline[mc.canon] = *val
				}
			}
			continue
		}

		variant := NormalizeVariant(variantText)
		conditions := rowConditions(cells, condCols)
		for _, mc := range metricCols {
			if mc.idx >= len(cells) {
				continue
			}
			val, verr, qual := ParseValueWithError(cells[mc.idx])
			unit := cm.unitByCanon[mc.canon]
			if unit == "" {
				unit = cm.unitByCanon["Units"]
			}
			rec := types.OutcomeRecord{
				Protein: e.Protein,
				Source:  src,
				Variant: variant,
				Assay: types.Assay{
					Type:       assayTypeByEndpoint[mc.canon],
					Endpoint:   mc.canon,
					Value:      val,
					Qualifier:  qual,
					Unit:       unit,
					Error:      verr,
					Conditions: conditions,
				},
				Comparators: []types.Comparator{},
			}
			if wt, ok := wtBaseline[mc.canon]; ok && val != nil && wt != 0 {
				fold := *val / wt
				rec.Comparators = append(rec.Comparators, types.Comparator{Name: "WT", Value: wt})
				rec.Derived.FoldChangeVsWT = &fold
				rec.Derived.Direction = InferDirection(&fold)
			}
			out = append(out, rec)
		}
	}
	return out
}

func tableCaption(wrap, tbl *node) string {
	var capEl *node
	if wrap.name != "table" {
		capEl = wrap.firstDescendant("caption")
	}
	if capEl == nil {
		capEl = tbl.firstDescendant("caption")
	}
	if capEl == nil {
		return ""
	}
	return capEl.textContent()
}

func captionSaysKinetic(caption string) bool {
	lower := strings.ToLower(caption)
	for _, k := range []string{"kinetic", "kcat", "km"} {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// pickVariantText chooses the variant cell: the first non-blank variant
// column, falling back to the first cell of the row.
func pickVariantText(cells []string, variantCols []int) string {
	cols := variantCols
	if len(cols) == 0 {
		cols = []int{0}
	}
	for _, vi := range cols {
		if vi < len(cells) && strings.TrimSpace(cells[vi]) != "" {
			return cells[vi]
		}
	}
	if len(cells) > 0 {
		return cells[0]
	}
	return ""
}

func rowConditions(cells []string, condCols []metricCol) map[string]string {
	var conditions map[string]string
	for _, cc := range condCols {
		if cc.idx < len(cells) && strings.TrimSpace(cells[cc.idx]) != "" {
			if conditions == nil {
				conditions = make(map[string]string, len(condCols))
			}
			conditions[cc.canon] = strings.TrimSpace(cells[cc.idx])
		}
	}
	return conditions
}

// ParseFile extracts all records from one full-text XML file. table-wrap
// elements are preferred; documents without any (HTML conversions) fall
// back to bare tables.
func (e *Extractor) ParseFile(path, pmid, pmcid, doi string) ([]types.OutcomeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	root, err := parseTree(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	src := types.RecordSource{PMID: pmid, PMCID: pmcid, DOI: doi, File: path}

	var out []types.OutcomeRecord
	wraps := root.descendants("table-wrap")
	if len(wraps) > 0 {
		for _, tw := range wraps {
			out = append(out, e.ExtractTable(tw, src)...)
		}
		return out, nil
	}
	for _, t := range root.descendants("table") {
		out = append(out, e.ExtractTable(t, src)...)
	}
	return out, nil
}

// ParseFromTriage walks a triage ledger, extracts records from every
// entry with saved full text, and writes them one JSON line each to
// outPath. Ledger order is preserved so reruns produce identical files.
func (e *Extractor) ParseFromTriage(triagePath, outPath string, w io.Writer) (int, error) {
	entries, err := triage.LoadLedger(triagePath)
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	extracted := 0
	parsed := 0
	for _, entry := range entries {
		if entry.FulltextPath == "" {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(entry.FulltextPath), ".xml") {
			continue
		}
		records, err := e.ParseFile(entry.FulltextPath, entry.PMID, entry.PMCID, entry.DOI)
		if err != nil {
			fmt.Fprintf(w, "warning: [%s] %v\n", entry.PMID, err)
			continue
		}
		parsed++
		fmt.Fprintf(w, "[%s] %s -> %d records\n", entry.PMID, filepath.Base(entry.FulltextPath), len(records))
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return extracted, fmt.Errorf("writing record for %s: %w", entry.PMID, err)
			}
			extracted++
		}
	}
	if err := out.Close(); err != nil {
		return extracted, fmt.Errorf("closing %s: %w", outPath, err)
	}

	fmt.Fprintf(w, "\nExtraction done: %d ledger entries, %d files parsed, %d records\n",
		len(entries), parsed, extracted)
	return extracted, nil
}
