// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package triage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/biokb/proteinkb/internal/httputil"
	"github.com/biokb/proteinkb/pkg/types"
)

// unpaywallBase is the Unpaywall lookup endpoint. Declared as a var so
// tests can substitute an httptest server.
var unpaywallBase = "https://api.unpaywall.org/v2/"

// ResourceUnpaywall names the Unpaywall rate-limiter bucket.
const ResourceUnpaywall = "unpaywall"

const (
	fulltextXMLDir = "fulltext_xml"
	fulltextOADir  = "fulltext_oa"

	// minFulltextBytes guards against empty or error-page responses
	// masquerading as full text.
	minFulltextBytes = 1000
	// minArtifactBytes is the floor for downloaded PDF/HTML artifacts.
	minArtifactBytes = 1024
)

// OA route identifiers recorded in the ledger.
const (
	RouteOpenAlexFlag     = "OPENALEX"
	RouteEPMCFlag         = "EPMC_FLAG"
	RouteEPMCXML          = "EPMC_XML"
	RouteOpenAlexURL      = "OPENALEX_URL"
	RouteOpenAlexHTML2XML = "OPENALEX_URL_HTML2XML"
	RouteUnpaywall        = "UNPAYWALL"
)

// Resolution is the outcome of the OA resolution chain for one article.
type Resolution struct {
	OA           bool
	OARoute      string
	PMCID        string
	FulltextPath string
	Reasons      []string
}

// Resolver attempts the full-text acquisition routes for one article in
// strict priority order, persisting the first success.
type Resolver struct {
	Client         *httputil.Client
	OutDir         string
	UnpaywallEmail string
}

// Resolve runs the route chain. Route failures are normal outcomes, not
// errors: an article with no acquirable full text yields a Resolution
// with an empty FulltextPath. The oa/oaRoute arguments seed the result
// with metadata-level knowledge from the bibliometric profile.
func (r *Resolver) Resolve(ctx context.Context, a types.Article, profile types.WorkProfile, oa bool, oaRoute string, w io.Writer) Resolution {
	res := Resolution{OA: oa, OARoute: oaRoute, PMCID: a.PMCID}

	// Route 1: EuropePMC full-text XML, resolving a PMCID from the DOI
	// when we do not have one yet.
	if res.PMCID == "" && a.DOI != "" {
		core, err := LookupCore(ctx, r.Client, a.DOI)
		if err != nil {
			fmt.Fprintf(w, "warning: [%s] EPMC core lookup failed: %v\n", a.PMID, err)
		} else {
			res.PMCID = core.PMCID
			if core.IsOpenAccess {
				res.OA = true
				if res.OARoute == "" {
					res.OARoute = RouteEPMCFlag
				}
			}
		}
	}
	if res.PMCID != "" {
		xml, err := FetchFulltextXML(ctx, r.Client, res.PMCID)
		if err != nil {
			fmt.Fprintf(w, "warning: [%s] EPMC fulltext fetch failed: %v\n", a.PMID, err)
		} else if len(xml) > minFulltextBytes {
			path := filepath.Join(r.OutDir, fulltextXMLDir, res.PMCID+".xml")
			if err := writeFileAtomic(path, []byte(xml)); err != nil {
				fmt.Fprintf(w, "warning: [%s] writing %s: %v\n", a.PMID, path, err)
			} else {
				res.OA = true
				res.OARoute = RouteEPMCXML
				res.FulltextPath = path
				res.Reasons = append(res.Reasons, "OA_fulltext_EPMC")
				return res
			}
		}
	}

	// Route 2: open-access URL from the bibliometric profile.
	if done := r.fetchFromURL(ctx, a, profile.OAPDFURL, profile.OAURL, profile.OALandingURL,
		RouteOpenAlexURL, RouteOpenAlexHTML2XML, "OA_fulltext_OpenAlexURL", &res, w); done {
		return res
	}

	// Route 3: Unpaywall, only when a contact email is configured.
	if r.UnpaywallEmail != "" && a.DOI != "" {
		r.resolveUnpaywall(ctx, a, &res, w)
	}

	return res
}

// fetchFromURL downloads a candidate OA URL (PDF preferred, fallback
// second), sniffs the content type, and saves either a PDF or an
// HTML-converted XML artifact. Returns true when an artifact was saved.
func (r *Resolver) fetchFromURL(ctx context.Context, a types.Article, pdfURL, fallbackURL, landingURL,
	pdfRoute, htmlRoute, reasonPrefix string, res *Resolution, w io.Writer) bool {

	candidate := pdfURL
	if candidate == "" {
		candidate = fallbackURL
	}
	if candidate == "" {
		return false
	}

	headers := map[string]string{"Accept": "application/pdf, */*"}
	if landingURL != "" {
		headers["Referer"] = landingURL
	}

	data, ctype, err := r.Client.Get(ctx, candidate, nil, headers, "")
	if err != nil && fallbackURL != "" && candidate != fallbackURL {
		candidate = fallbackURL
		data, ctype, err = r.Client.Get(ctx, candidate, nil, headers, "")
	}
	if err != nil || len(data) <= minArtifactBytes {
		return false
	}

	slug := artifactSlug(a)
	if isPDF(ctype, candidate) {
		path := filepath.Join(r.OutDir, fulltextOADir, slug+".pdf")
		if err := writeFileAtomic(path, data); err != nil {
			fmt.Fprintf(w, "warning: [%s] writing %s: %v\n", a.PMID, path, err)
			return false
		}
		res.OA = true
		if res.OARoute == "" || res.OARoute == RouteOpenAlexFlag || res.OARoute == RouteEPMCFlag {
			res.OARoute = pdfRoute
		}
		res.FulltextPath = path
		res.Reasons = append(res.Reasons, reasonPrefix)
		return true
	}

	path := filepath.Join(r.OutDir, fulltextXMLDir, slug+".xml")
	if err := writeFileAtomic(path, HTMLToXML(data)); err != nil {
		fmt.Fprintf(w, "warning: [%s] writing %s: %v\n", a.PMID, path, err)
		return false
	}
	res.OA = true
	if res.OARoute == "" || res.OARoute == RouteOpenAlexFlag || res.OARoute == RouteEPMCFlag {
		res.OARoute = htmlRoute
	}
	res.FulltextPath = path
	res.Reasons = append(res.Reasons, reasonPrefix+"_HTML2XML")
	return true
}

// unpaywallResponse is the subset of an Unpaywall record we use.
type unpaywallResponse struct {
	IsOA           bool               `json:"is_oa"`
	BestOALocation *unpaywallLocation `json:"best_oa_location"`
}

type unpaywallLocation struct {
	URL           string `json:"url"`
	URLForPDF     string `json:"url_for_pdf"`
	URLForLanding string `json:"url_for_landing_page"`
}

func (r *Resolver) resolveUnpaywall(ctx context.Context, a types.Article, res *Resolution, w io.Writer) {
	params := url.Values{"email": {r.UnpaywallEmail}}
	var upw unpaywallResponse
	err := r.Client.GetJSON(ctx, unpaywallBase+a.DOI, params, nil, ResourceUnpaywall, &upw)
	switch {
	case errors.Is(err, httputil.ErrNotFound):
		return
	case err != nil:
		fmt.Fprintf(w, "warning: [%s] Unpaywall lookup failed: %v\n", a.PMID, err)
		return
	}
	if !upw.IsOA {
		return
	}

	res.OA = true
	res.OARoute = RouteUnpaywall
	res.Reasons = append(res.Reasons, "OA_via_Unpaywall")

	loc := upw.BestOALocation
	if loc == nil {
		return
	}
	upwURL := firstNonEmpty(loc.URL, loc.URLForPDF, loc.URLForLanding)
	if upwURL == "" {
		return
	}
	r.fetchFromURL(ctx, a, upwURL, "", "", RouteUnpaywall, RouteUnpaywall, "OA_fulltext_Unpaywall", res, w)
}

// artifactSlug is the filename stem for a saved artifact: PMID when
// known, else the DOI with slashes flattened.
func artifactSlug(a types.Article) string {
	if a.PMID != "" {
		return a.PMID
	}
	if a.DOI != "" {
		return strings.ReplaceAll(a.DOI, "/", "_")
	}
	return "noid"
}

func isPDF(ctype, candidateURL string) bool {
	return strings.Contains(strings.ToLower(ctype), "pdf") ||
		strings.Contains(strings.ToLower(candidateURL), ".pdf")
}

// HTMLToXML re-serializes an HTML document as well-formed XML so the
// table extraction engine can parse saved landing pages with the same
// code path as PMC XML. When the HTML cannot be parsed, the raw text is
// wrapped in a CDATA stub so downstream parsing never hard-fails.
func HTMLToXML(data []byte) []byte {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return cdataStub(data)
	}
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	if err := renderXML(&buf, doc); err != nil {
		return cdataStub(data)
	}
	return buf.Bytes()
}

func cdataStub(data []byte) []byte {
	text := strings.ReplaceAll(string(data), "]]>", "]]]]><![CDATA[>")
	return []byte(`<?xml version="1.0" encoding="utf-8"?>` +
		"<html><body><![CDATA[" + text + "]]></body></html>")
}

// renderXML walks the parsed HTML tree, emitting every element as a
// self-closing-safe XML element. Raw-text containers that would break
// XML well-formedness (scripts, styles) are dropped.
func renderXML(buf *bytes.Buffer, n *html.Node) error {
	switch n.Type {
	case html.TextNode:
		if err := xmlEscape(buf, n.Data); err != nil {
			return err
		}
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return nil
		}
		buf.WriteByte('<')
		buf.WriteString(n.Data)
		for _, attr := range n.Attr {
			if !validXMLName(attr.Key) {
				continue
			}
			buf.WriteByte(' ')
			buf.WriteString(attr.Key)
			buf.WriteString(`="`)
			if err := xmlEscape(buf, attr.Val); err != nil {
				return err
			}
			buf.WriteByte('"')
		}
		buf.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := renderXML(buf, c); err != nil {
				return err
			}
		}
		buf.WriteString("</")
		buf.WriteString(n.Data)
		buf.WriteByte('>')
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := renderXML(buf, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func xmlEscape(buf *bytes.Buffer, s string) error {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	_, err := r.WriteString(buf, s)
	return err
}

func validXMLName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '.' || r == ':'):
		default:
			return false
		}
	}
	return true
}

// writeFileAtomic writes data to path via a temp file and rename, so an
// interrupted run never leaves a partial artifact that a later run would
// treat as valid full text.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fulltext-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := io.Copy(tmp, bytes.NewReader(data))
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing artifact: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
