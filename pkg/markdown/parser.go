// Package markdown is the reference implementation of the artifact
// parser external collaborator: it turns one service's annotated
// Markdown document into an artifact.Artifact. It is consumed only by
// cmd/pactown — the orchestration core depends on artifact.Parser, not
// on this package, per the external-collaborator boundary.
package markdown

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	bf "github.com/russross/blackfriday/v2"

	"github.com/cuemby/pactown/pkg/artifact"
)

// Parser reads a Markdown document from disk and extracts its declared
// files, dependencies, run command, and test cases.
//
// Document shape (## headings are section markers, case-insensitive):
//
//	## Files
//	### relative/path.ext
//	```lang
//	file content
//	```
//
//	## Deps
//	- dependency-one
//	- dependency-two
//
//	## Run
//	```sh
//	command --port 8000
//	```
//
//	## Tests
//	- GET /health -> 200
type Parser struct{}

func New() *Parser { return &Parser{} }

// Parse reads and extracts the artifact declared by the Markdown file at
// handle (a filesystem path).
func (p *Parser) Parse(handle string) (*artifact.Artifact, error) {
	raw, err := os.ReadFile(handle)
	if err != nil {
		return nil, fmt.Errorf("read artifact %q: %w", handle, err)
	}
	return Extract(raw)
}

// Extract walks raw's Markdown AST and builds an Artifact from it.
func Extract(raw []byte) (*artifact.Artifact, error) {
	doc := bf.New(bf.WithExtensions(bf.FencedCode)).Parse(raw)

	art := &artifact.Artifact{}
	section := ""
	var pendingFilePath string

	doc.Walk(func(node *bf.Node, entering bool) bf.WalkStatus {
		if !entering {
			return bf.GoToNext
		}

		switch node.Type {
		case bf.Heading:
			text := string(headingText(node))
			switch node.HeadingData.Level {
			case 1:
				art.Title = text
			case 2:
				section = strings.ToLower(strings.TrimSpace(text))
			case 3:
				if section == "files" {
					pendingFilePath = strings.TrimSpace(text)
				}
			}

		case bf.CodeBlock:
			content := node.Literal
			switch section {
			case "files":
				if pendingFilePath != "" {
					art.Files = append(art.Files, artifact.File{Path: pendingFilePath, Bytes: content})
					pendingFilePath = ""
				}
			case "run":
				if art.Run == "" {
					art.Run = strings.TrimSpace(string(content))
				}
			}

		case bf.Item:
			switch section {
			case "deps":
				if dep := strings.TrimSpace(string(itemText(node))); dep != "" {
					art.Deps = append(art.Deps, dep)
				}
			case "tests":
				if tc, ok := parseTestCase(string(itemText(node))); ok {
					art.Tests = append(art.Tests, tc)
				}
			}
		}

		return bf.GoToNext
	})

	return art, nil
}

func headingText(node *bf.Node) []byte {
	var out []byte
	for c := node.FirstChild; c != nil; c = c.Next {
		out = append(out, c.Literal...)
	}
	return out
}

func itemText(node *bf.Node) []byte {
	var out []byte
	node.Walk(func(n *bf.Node, entering bool) bf.WalkStatus {
		if entering && n.Type == bf.Text {
			out = append(out, n.Literal...)
		}
		return bf.GoToNext
	})
	return out
}

// parseTestCase parses "METHOD /path -> STATUS" lines from the Tests
// section's list items.
func parseTestCase(line string) (artifact.TestCase, bool) {
	parts := strings.SplitN(line, "->", 2)
	if len(parts) != 2 {
		return artifact.TestCase{}, false
	}
	fields := strings.Fields(strings.TrimSpace(parts[0]))
	if len(fields) < 2 {
		return artifact.TestCase{}, false
	}
	status, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return artifact.TestCase{}, false
	}
	return artifact.TestCase{Method: fields[0], Path: fields[1], ExpectStatus: status}, true
}
