package workflow

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bmad-method/orchestrator/pkg/errs"
)

// stepOpenPattern matches a <step ...> opening tag and captures its
// attributes; the parser is tolerant of free text between step blocks
// (spec §6).
var stepOpenPattern = regexp.MustCompile(`(?s)<step\s+([^>]*?)/?>`)

// innerOpenPattern matches any recognised inner tag's opening, capturing
// its name and raw attribute string.
var innerOpenPattern = regexp.MustCompile(`(?s)<(action|output|ask|elicit-required|template-output|check|invoke-workflow)([^>]*?)(/?)>`)

var attrPattern = regexp.MustCompile(`([a-zA-Z_-]+)\s*=\s*"([^"]*)"`)

// parseAttrs extracts name="value" pairs from a raw attribute string.
func parseAttrs(raw string) map[string]string {
	out := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(raw, -1) {
		out[m[1]] = m[2]
	}
	return out
}

// ParseScript parses a step script document into an ordered Script, per
// spec §4.1/§6. The step list is ordered by declared `n`; contiguity is
// enforced (a gap is a load-time WorkflowParseError).
func ParseScript(doc string) (*Script, error) {
	openMatches := stepOpenPattern.FindAllStringSubmatchIndex(doc, -1)
	if len(openMatches) == 0 {
		return nil, errs.NewWorkflowParseError("step script contains no <step> blocks", nil)
	}

	var steps []Step
	for i, loc := range openMatches {
		attrRaw := doc[loc[2]:loc[3]]
		attrs := parseAttrs(attrRaw)

		numStr, ok := attrs["n"]
		if !ok {
			return nil, errs.NewWorkflowParseError("step is missing required attribute n", nil)
		}
		number, err := strconv.Atoi(numStr)
		if err != nil {
			return nil, errs.NewWorkflowParseError("step attribute n is not an integer: "+numStr, nil)
		}

		bodyStart := loc[1]
		bodyEnd := len(doc)
		if i+1 < len(openMatches) {
			bodyEnd = openMatches[i+1][0]
		}
		body := doc[bodyStart:bodyEnd]
		if closeIdx := strings.LastIndex(body, "</step>"); closeIdx >= 0 {
			body = body[:closeIdx]
		}

		tags, err := parseTags(body)
		if err != nil {
			return nil, err
		}

		steps = append(steps, Step{
			Number:    number,
			Goal:      attrs["goal"],
			Content:   strings.TrimSpace(body),
			Condition: attrs["if"],
			Optional:  attrs["optional"] == "true",
			Tags:      tags,
		})
	}

	if err := validateContiguous(steps); err != nil {
		return nil, err
	}

	return &Script{Steps: steps}, nil
}

// parseTags scans body for the inner tags listed in spec §4.1, in source
// order, extracting content verbatim. <check> tags recurse to capture
// their nested sequence.
func parseTags(body string) ([]Tag, error) {
	var tags []Tag
	pos := 0
	for pos < len(body) {
		loc := innerOpenPattern.FindStringSubmatchIndex(body[pos:])
		if loc == nil {
			break
		}
		name := body[pos+loc[2] : pos+loc[3]]
		attrRaw := body[pos+loc[4] : pos+loc[5]]
		selfClosing := body[pos+loc[6]:pos+loc[7]] == "/"
		attrs := parseAttrs(attrRaw)
		tagEnd := pos + loc[1]

		kind := TagKind(name)
		tag := Tag{Kind: kind, File: attrs["file"], Path: attrs["path"], If: attrs["if"]}

		if selfClosing {
			pos = tagEnd
			tags = append(tags, tag)
			continue
		}

		closeTag := "</" + name + ">"
		closeIdx := indexBalanced(body, tagEnd, name, closeTag)
		if closeIdx < 0 {
			return nil, errs.NewWorkflowParseError("unterminated <"+name+"> tag in step script", nil)
		}
		inner := body[tagEnd:closeIdx]

		if kind == TagCheck {
			children, err := parseTags(inner)
			if err != nil {
				return nil, err
			}
			tag.Children = children
			tag.Content = strings.TrimSpace(inner)
		} else {
			tag.Content = strings.TrimSpace(inner)
		}

		tags = append(tags, tag)
		pos = closeIdx + len(closeTag)
	}
	return tags, nil
}

// indexBalanced finds the matching close tag for a tag opened at start,
// accounting for same-named tags nested inside (relevant for <check>,
// which may itself contain other tags but never another <check> opening
// at the top level we care about here beyond simple nesting depth).
func indexBalanced(body string, start int, name, closeTag string) int {
	openTag := "<" + name
	depth := 1
	i := start
	for {
		nextClose := strings.Index(body[i:], closeTag)
		if nextClose < 0 {
			return -1
		}
		nextClose += i

		nextOpen := strings.Index(body[i:], openTag)
		if nextOpen >= 0 {
			nextOpen += i
		}

		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i = nextOpen + len(openTag)
			continue
		}

		depth--
		if depth == 0 {
			return nextClose
		}
		i = nextClose + len(closeTag)
	}
}
