// Package parser separates YAML frontmatter from the Markdown body of a vault
// document and derives its title.
package parser

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

// Result holds the output of parsing a document file.
type Result struct {
	Frontmatter map[string]interface{}
	// Header is the frontmatter block verbatim, delimiters included, so it can
	// be written back untouched.
	Header string
	Body   string
	Title  string
}

// Parse splits raw file bytes into frontmatter and body.
func Parse(data []byte) (*Result, error) {
	fm, header, body := splitFrontmatter(data)
	return &Result{
		Frontmatter: fm,
		Header:      header,
		Body:        body,
		Title:       deriveTitle(fm, body),
	}, nil
}

// Join reassembles a file from a header produced by Parse and a body.
func Join(header, body string) []byte {
	if header == "" {
		return []byte(body)
	}
	var buf bytes.Buffer
	buf.WriteString(header)
	if !strings.HasSuffix(header, "\n") {
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.WriteString(body)
	return buf.Bytes()
}

// splitFrontmatter separates YAML between leading --- lines from the body.
// Without a well-formed block the whole input is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, string) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, "", string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, "", string(data)
	}

	yamlBlock := rest[:idx]
	end := len(delim) + idx + 1 + len(delim)
	header := string(trimmed[:end])
	body := strings.TrimLeft(string(trimmed[end:]), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, "", string(data)
	}
	return fm, header, body
}

// deriveTitle prefers the frontmatter title, then the first H1 heading.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
