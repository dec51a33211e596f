// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Format selects how a Renderer writes.
type Format string

const (
	// FormatAuto is styled on a terminal and plain otherwise.
	FormatAuto   Format = "auto"
	FormatStyled Format = "styled"
	FormatPlain  Format = "plain"
	FormatJSON   Format = "json"
)

// ParseFormat accepts auto, styled, text/plain and json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "styled", "color":
		return FormatStyled, nil
	case "plain", "text":
		return FormatPlain, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Palette, matching the CLI's teal theme.
var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorTealDim = lipgloss.Color("#16858E")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	okBox   lipgloss.Style
	badBox  lipgloss.Style
	section lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	box := r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(colorTeal),
		label:   r.NewStyle().Foreground(colorTealDim).Width(12),
		muted:   r.NewStyle().Foreground(colorMuted),
		ok:      r.NewStyle().Foreground(colorTeal),
		warn:    r.NewStyle().Foreground(colorWarning),
		bad:     r.NewStyle().Foreground(colorError),
		okBox:   box.BorderForeground(colorTeal),
		badBox:  box.BorderForeground(colorError),
		section: r.NewStyle().Bold(true).MarginTop(1),
	}
}

// Renderer writes documents to w.
type Renderer struct {
	w      io.Writer
	format Format
	st     *styles
}

// NewRenderer resolves FormatAuto against w: styled when w is a terminal.
func NewRenderer(w io.Writer, format Format) *Renderer {
	if format == FormatAuto || format == "" {
		format = FormatPlain
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			format = FormatStyled
		}
	}
	r := &Renderer{w: w, format: format}
	if format == FormatStyled {
		s := newStyles(lipgloss.NewRenderer(w))
		r.st = &s
	}
	return r
}

// Format returns the resolved format.
func (r *Renderer) Format() Format { return r.format }

// Style selectors for Renderer.style.
var (
	pickTitle   = func(s *styles) lipgloss.Style { return s.title }
	pickSection = func(s *styles) lipgloss.Style { return s.section }
	pickMuted   = func(s *styles) lipgloss.Style { return s.muted }
	pickOk      = func(s *styles) lipgloss.Style { return s.ok }
	pickWarn    = func(s *styles) lipgloss.Style { return s.warn }
	pickBad     = func(s *styles) lipgloss.Style { return s.bad }
)

func (r *Renderer) style(pick func(*styles) lipgloss.Style, text string) string {
	if r.st == nil {
		return text
	}
	return pick(r.st).Render(text)
}

func (r *Renderer) json(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Render writes doc.
func (r *Renderer) Render(doc Document) error {
	if r.format == FormatJSON {
		return r.json(doc)
	}
	var b strings.Builder
	line := func(format string, args ...any) { fmt.Fprintf(&b, format+"\n", args...) }
	field := func(label, value string) {
		if r.st == nil {
			line("%-12s%s", label, value)
			return
		}
		line("%s%s", r.st.label.Render(label), value)
	}

	line("%s", r.style(pickTitle, fmt.Sprintf("fee audit %s %s", doc.Kind, doc.ID)))
	field("pair", doc.Pair)
	if doc.Trader != "" {
		field("trader", doc.Trader)
	}
	field("policy", policyLine(doc.Policy))
	field("explicit", listOrNone(doc.Exclusion.ExplicitSet))
	field("mapping", mappingLine(doc.Exclusion.Mapping))

	if len(doc.Readiness) > 0 {
		line("%s", r.style(pickSection, "Readiness"))
		for _, f := range doc.Readiness {
			line(" %s %-26s %s", r.mark(f.OK), f.Check, r.style(pickMuted, f.Detail))
		}
	}

	if len(doc.Scenarios) > 0 {
		line("%s", r.style(pickSection, "Scenarios"))
		for _, sc := range doc.Scenarios {
			r.scenario(&b, sc)
		}
	}
	if doc.RoundTrip != "" {
		field("round trip", r.verdict(doc.RoundTrip))
	}
	if doc.Error != "" {
		line("%s %s", r.style(pickBad, "error:"), doc.Error)
	}

	if doc.Diagnosis != nil {
		text := fmt.Sprintf("%s\n%s", strings.ToUpper(doc.Diagnosis.Verdict), doc.Diagnosis.Explanation)
		switch {
		case r.st == nil:
			line("")
			line("diagnosis: %s", doc.Diagnosis.Verdict)
			line("  %s", doc.Diagnosis.Explanation)
		case doc.Diagnosis.Defect:
			b.WriteString("\n" + r.st.badBox.Render(text) + "\n")
		default:
			b.WriteString("\n" + r.st.okBox.Render(text) + "\n")
		}
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) scenario(b *strings.Builder, sc ScenarioDoc) {
	mode := "naive"
	if sc.FeeAware {
		mode = "fee-aware"
	}
	fmt.Fprintf(b, " %-16s %-9s in %-14s %s\n", sc.Kind, mode, sc.Gross, r.verdict(sc.Verdict))
	fmt.Fprintf(b, "   expected  net %s burn %s foundation %s (tag %s)\n",
		sc.Expected.Net, sc.Expected.Burn, sc.Expected.Foundation, sc.ExpectedTag)
	switch {
	case sc.Observed != nil:
		fmt.Fprintf(b, "   observed  net %s burn %s foundation %s (%d/%d bps)\n",
			sc.Observed.Net, sc.Observed.Burn, sc.Observed.Foundation, sc.ObservedBurn, sc.ObservedFound)
	case sc.Reverted:
		fmt.Fprintf(b, "   observed  reverted: %s\n", sc.RevertReason)
	}
	if sc.ExpectedBase != "" {
		fmt.Fprintf(b, "   base      expected %s observed %s\n", sc.ExpectedBase, orDash(sc.ObservedBase))
	}
	if sc.ExpectedLP != "" {
		fmt.Fprintf(b, "   lp        expected %s observed %s\n", sc.ExpectedLP, orDash(sc.ObservedLP))
	}
	if sc.Note != "" {
		fmt.Fprintf(b, "   %s\n", r.style(pickMuted, sc.Note))
	}
	if sc.Error != "" {
		fmt.Fprintf(b, "   %s %s\n", r.style(pickBad, "error:"), sc.Error)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (r *Renderer) mark(ok bool) string {
	if ok {
		return r.style(pickOk, "✓")
	}
	return r.style(pickBad, "✗")
}

func (r *Renderer) verdict(v string) string {
	switch v {
	case engine.VerdictMatch.String():
		return r.style(pickOk, v)
	case engine.VerdictInconclusive.String():
		return r.style(pickWarn, v)
	default:
		return r.style(pickBad, v)
	}
}

// RenderHistory writes a listing of stored runs, newest first as given.
func (r *Renderer) RenderHistory(items []Summary) error {
	if r.format == FormatJSON {
		if items == nil {
			items = []Summary{}
		}
		return r.json(items)
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(r.w, "no stored reports")
		return err
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%s  %s  %-10s  %s\n",
			it.CreatedAt.Format("2006-01-02 15:04:05"), it.ID, it.Kind, r.verdict(it.Verdict))
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// RenderComparison writes the fields that differ between two tokens.
func (r *Renderer) RenderComparison(left, right string, diffs []engine.PolicyDifference) error {
	if r.format == FormatJSON {
		if diffs == nil {
			diffs = []engine.PolicyDifference{}
		}
		return r.json(struct {
			Left        string                    `json:"left"`
			Right       string                    `json:"right"`
			Differences []engine.PolicyDifference `json:"differences"`
		}{left, right, diffs})
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-22s %-44s %s\n", "field", left, right)
	if len(diffs) == 0 {
		b.WriteString(r.style(pickOk, "no tax-relevant differences") + "\n")
	}
	for _, d := range diffs {
		fmt.Fprintf(&b, "%-22s %-44s %s\n", d.Field, d.Left, r.style(pickWarn, d.Right))
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func policyLine(p engine.TaxPolicy) string {
	gate := "off"
	if p.PairGateEnabled {
		gate = "on"
	}
	return fmt.Sprintf("burn %d bps, foundation %d bps, pair gate %s", p.BurnBps, p.FoundationBps, gate)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func mappingLine(m map[string]bool) string {
	var set []string
	for a, v := range m {
		if v {
			set = append(set, a)
		}
	}
	if len(set) == 0 {
		return fmt.Sprintf("none of %d probed", len(m))
	}
	sort.Strings(set)
	return strings.Join(set, ", ")
}
