// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pmcxml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biokb/proteinkb/pkg/types"
)

const kineticsArticle = `<?xml version="1.0"?>
<article xmlns:xlink="http://www.w3.org/1999/xlink">
  <front><article-meta><title-group>
    <article-title>Variant kinetics</article-title>
  </title-group></article-meta></front>
  <body>
    <sec>
      <table-wrap id="tbl1">
        <caption><p>Kinetic parameters of enzyme variants</p></caption>
        <table>
          <thead>
            <tr><th>Variant</th><th>kcat (s-1)</th><th>Km (mM)</th></tr>
          </thead>
          <tbody>
            <tr><td>WT</td><td>10.0</td><td>2.0</td></tr>
            <tr><td>A123G</td><td>5.0 ± 0.3</td><td>4.0</td></tr>
            <tr><td>p.(Arg45Lys)</td><td>n.d.</td><td>&gt;20</td></tr>
          </tbody>
        </table>
      </table-wrap>
      <table-wrap id="tbl2">
        <caption><p>Strains used in this study</p></caption>
        <table>
          <thead><tr><th>Strain</th><th>Genotype</th></tr></thead>
          <tbody><tr><td>BL21</td><td>DE3</td></tr></tbody>
        </table>
      </table-wrap>
    </sec>
  </body>
</article>`

func writeArticle(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "PMC1.xml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testExtractor() *Extractor {
	return &Extractor{Protein: types.Protein{QueryName: "ENZ1", Synonyms: []string{"enzyme one"}}}
}

func TestParseFileKineticsTable(t *testing.T) {
	path := writeArticle(t, kineticsArticle)
	records, err := testExtractor().ParseFile(path, "100", "PMC1", "10.1/x")
	require.NoError(t, err)

	// Two variant rows, two metric columns each; the strains table and
	// the WT baseline row produce nothing.
	require.Len(t, records, 4)

	for _, rec := range records {
		assert.Equal(t, "ENZ1", rec.Protein.QueryName)
		assert.Equal(t, "100", rec.Source.PMID)
		assert.Equal(t, "tbl1", rec.Source.TableID)
		assert.Equal(t, "Kinetic parameters of enzyme variants", rec.Source.Caption)
		assert.Equal(t, path, rec.Source.File)
		assert.Equal(t, "enzyme_kinetics", rec.Assay.Type)
	}

	kcat := records[0]
	assert.Equal(t, "A123G", kcat.Variant.Raw)
	assert.Equal(t, "p.Ala123Gly", kcat.Variant.NormalizedHGVSP)
	assert.Equal(t, "kcat", kcat.Assay.Endpoint)
	assert.Equal(t, "s-1", kcat.Assay.Unit)
	require.NotNil(t, kcat.Assay.Value)
	assert.Equal(t, 5.0, *kcat.Assay.Value)
	require.NotNil(t, kcat.Assay.Error)
	assert.Equal(t, 0.3, kcat.Assay.Error.Value)

	// Fold change against the cached WT baseline.
	require.Len(t, kcat.Comparators, 1)
	assert.Equal(t, types.Comparator{Name: "WT", Value: 10.0}, kcat.Comparators[0])
	require.NotNil(t, kcat.Derived.FoldChangeVsWT)
	assert.Equal(t, 0.5, *kcat.Derived.FoldChangeVsWT)
	assert.Equal(t, "decrease", kcat.Derived.Direction)

	km := records[1]
	assert.Equal(t, "Km", km.Assay.Endpoint)
	assert.Equal(t, "mM", km.Assay.Unit)
	require.NotNil(t, km.Derived.FoldChangeVsWT)
	assert.Equal(t, 2.0, *km.Derived.FoldChangeVsWT)
	assert.Equal(t, "increase", km.Derived.Direction)

	// Unparseable and qualified cells still yield records, without a
	// fold change for the nil value and with the qualifier preserved.
	ndKcat := records[2]
	assert.Equal(t, "p.Arg45Lys", ndKcat.Variant.NormalizedHGVSP)
	assert.Nil(t, ndKcat.Assay.Value)
	assert.Nil(t, ndKcat.Derived.FoldChangeVsWT)

	gtKm := records[3]
	require.NotNil(t, gtKm.Assay.Value)
	assert.Equal(t, 20.0, *gtKm.Assay.Value)
	assert.Equal(t, ">", gtKm.Assay.Qualifier)
}

func TestParseFileActivityPercent(t *testing.T) {
	article := `<article><body><table-wrap id="t1">
		<table>
			<thead><tr><th>Variant</th><th>Activity (%)</th></tr></thead>
			<tbody>
				<tr><td>Wild type</td><td>100</td></tr>
				<tr><td>D42A</td><td>45</td></tr>
			</tbody>
		</table>
	</table-wrap></body></article>`

	records, err := testExtractor().ParseFile(writeArticle(t, article), "200", "", "")
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "Activity", rec.Assay.Endpoint)
	assert.Equal(t, "activity", rec.Assay.Type)
	assert.Equal(t, "%", rec.Assay.Unit)
	assert.Equal(t, "p.Asp42Ala", rec.Variant.NormalizedHGVSP)
	require.NotNil(t, rec.Derived.FoldChangeVsWT)
	assert.Equal(t, 0.45, *rec.Derived.FoldChangeVsWT)
	assert.Equal(t, "decrease", rec.Derived.Direction)
}

func TestParseFileHeaderFromFirstBodyRow(t *testing.T) {
	// No thead: the first row is the header, the rest are data.
	article := `<article><body><table-wrap>
		<table>
			<tr><td>Mutant</td><td>IC50 (nM)</td></tr>
			<tr><td>L10P</td><td>250</td></tr>
		</table>
	</table-wrap></body></article>`

	records, err := testExtractor().ParseFile(writeArticle(t, article), "300", "", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "IC50", records[0].Assay.Endpoint)
	assert.Equal(t, "inhibition", records[0].Assay.Type)
	assert.Equal(t, "nM", records[0].Assay.Unit)
	assert.Equal(t, "p.Leu10Pro", records[0].Variant.NormalizedHGVSP)
}

func TestParseFileFootnoteMarkedHeaders(t *testing.T) {
	// Footnote markers on the metric headers must not hide them.
	article := `<article><body><table-wrap id="k1">
		<caption><p>Kinetic constants for all variants</p></caption>
		<table>
			<thead><tr><th>Variant</th><th>note</th><th>kcat a</th><th>Km b</th></tr></thead>
			<tbody>
				<tr><td>A5T</td><td>x</td><td>3.0</td><td>1.5</td></tr>
			</tbody>
		</table>
	</table-wrap></body></article>`

	records, err := testExtractor().ParseFile(writeArticle(t, article), "400", "", "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "kcat", records[0].Assay.Endpoint)
	assert.Equal(t, "Km", records[1].Assay.Endpoint)
}

func TestParseFileBareTablesFallback(t *testing.T) {
	// HTML-converted artifacts have no table-wrap elements.
	article := `<html><body><table>
		<thead><tr><th>Variant</th><th>Tm (°C)</th></tr></thead>
		<tbody>
			<tr><td>WT</td><td>55.0</td></tr>
			<tr><td>C77S</td><td>48.2</td></tr>
		</tbody>
	</table></body></html>`

	records, err := testExtractor().ParseFile(writeArticle(t, article), "500", "", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Tm", records[0].Assay.Endpoint)
	assert.Equal(t, "stability", records[0].Assay.Type)
	assert.Equal(t, "°C", records[0].Assay.Unit)
}

func TestParseFileConditionsColumns(t *testing.T) {
	article := `<article><body><table-wrap>
		<table>
			<thead><tr><th>Variant</th><th>pH</th><th>Temp (°C)</th><th>Activity (%)</th></tr></thead>
			<tbody><tr><td>G9V</td><td>7.4</td><td>37</td><td>80</td></tr></tbody>
		</table>
	</table-wrap></body></article>`

	records, err := testExtractor().ParseFile(writeArticle(t, article), "600", "", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, map[string]string{"pH": "7.4", "Temperature": "37"}, records[0].Assay.Conditions)
}

func TestParseFileRaggedRows(t *testing.T) {
	// Short rows are padded; the missing metric cell yields a nil value.
	article := `<article><body><table-wrap>
		<table>
			<thead><tr><th>Variant</th><th>kcat</th><th>Km</th></tr></thead>
			<tbody><tr><td>A1G</td><td>2.5</td></tr></tbody>
		</table>
	</table-wrap></body></article>`

	records, err := testExtractor().ParseFile(writeArticle(t, article), "700", "", "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].Assay.Value)
	assert.Nil(t, records[1].Assay.Value)
}

func TestParseFileMalformedXML(t *testing.T) {
	path := writeArticle(t, "")
	_, err := testExtractor().ParseFile(path, "800", "", "")
	assert.Error(t, err)
}

func TestParseFromTriage(t *testing.T) {
	dir := t.TempDir()
	articlePath := filepath.Join(dir, "PMC1.xml")
	require.NoError(t, os.WriteFile(articlePath, []byte(kineticsArticle), 0o644))

	ledgerPath := filepath.Join(dir, "triage.jsonl")
	ledger := `{"pmid": "100", "pmcid": "PMC1", "doi": "10.1/x", "oa": true, "oa_route": "EPMC_XML", "fulltext_path": ` + jsonString(articlePath) + `, "score": 90}
{"pmid": "101", "score": 10}
{"pmid": "102", "fulltext_path": "/missing/file.xml", "score": 80}
{"pmid": "103", "fulltext_path": ` + jsonString(filepath.Join(dir, "some.pdf")) + `, "score": 80}
`
	require.NoError(t, os.WriteFile(ledgerPath, []byte(ledger), 0o644))

	outPath := filepath.Join(dir, "kb", "kb.records.jsonl")
	var log strings.Builder
	n, err := testExtractor().ParseFromTriage(ledgerPath, outPath, &log)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Missing files warn and are skipped; PDFs are not parsed.
	assert.Contains(t, log.String(), "warning: [102]")
	assert.NotContains(t, log.String(), "103")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"pmid":"100"`)
	assert.Contains(t, lines[0], `"query_name":"ENZ1"`)
}

func TestParseFromTriageIdempotent(t *testing.T) {
	dir := t.TempDir()
	articlePath := filepath.Join(dir, "PMC1.xml")
	require.NoError(t, os.WriteFile(articlePath, []byte(kineticsArticle), 0o644))

	ledgerPath := filepath.Join(dir, "triage.jsonl")
	ledger := `{"pmid": "100", "pmcid": "PMC1", "fulltext_path": ` + jsonString(articlePath) + `}` + "\n"
	require.NoError(t, os.WriteFile(ledgerPath, []byte(ledger), 0o644))

	outPath := filepath.Join(dir, "kb.records.jsonl")
	ex := testExtractor()

	first, err := runParse(t, ex, ledgerPath, outPath)
	require.NoError(t, err)
	second, err := runParse(t, ex, ledgerPath, outPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func runParse(t *testing.T, ex *Extractor, ledgerPath, outPath string) (string, error) {
	t.Helper()
	var log strings.Builder
	if _, err := ex.ParseFromTriage(ledgerPath, outPath, &log); err != nil {
		return "", err
	}
	data, err := os.ReadFile(outPath)
	return string(data), err
}

func jsonString(s string) string {
	return `"` + strings.ReplaceAll(s, `\`, `\\`) + `"`
}
