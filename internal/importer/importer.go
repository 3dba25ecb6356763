// Package importer reads local recipe files into input for the recipe
// parsing functions.
package importer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/kalambet/mealkit/internal/validate"
)

type Kind string

const (
	KindText  Kind = "text"
	KindURL   Kind = "url"
	KindImage Kind = "image"
)

// Input is what a recipe import job carries.
type Input struct {
	Kind  Kind
	Text  string
	URL   string
	Image []byte
	MIME  string
}

// ErrUnsupported is returned for files that are neither text, HTML, PDF nor
// a supported image.
var ErrUnsupported = errors.New("unsupported file type")

var imageExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// FromFile picks a reader by extension, falling back to the file's content.
func FromFile(path string) (Input, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".pdf" {
		text, err := PDFText(path)
		if err != nil {
			return Input{}, err
		}
		return textInput(text)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("reading %s: %w", path, err)
	}

	switch {
	case ext == ".txt" || ext == ".md" || ext == ".text":
		return textInput(string(data))
	case ext == ".html" || ext == ".htm":
		text, err := HTMLText(bytes.NewReader(data))
		if err != nil {
			return Input{}, err
		}
		return textInput(text)
	case imageExt[ext] != "":
		return imageInput(data, imageExt[ext])
	}

	// Unknown extension: go by content.
	if m := validate.SniffImage(data); m != "" {
		return imageInput(data, m)
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		text, err := PDFText(path)
		if err != nil {
			return Input{}, err
		}
		return textInput(text)
	}
	if strings.HasPrefix(http.DetectContentType(data), "text/html") {
		text, err := HTMLText(bytes.NewReader(data))
		if err != nil {
			return Input{}, err
		}
		return textInput(text)
	}
	if utf8.Valid(data) {
		return textInput(string(data))
	}
	return Input{}, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupported)
}

func textInput(text string) (Input, error) {
	text, err := validate.RecipeText(text)
	if err != nil {
		return Input{}, err
	}
	return Input{Kind: KindText, Text: text}, nil
}

func imageInput(data []byte, mime string) (Input, error) {
	mime, err := validate.Image(data, mime)
	if err != nil {
		return Input{}, err
	}
	return Input{Kind: KindImage, Image: data, MIME: mime}, nil
}

// PDFText extracts the plain text of every page.
func PDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]+`)
)

// HTMLText returns the readable text of an HTML document, one block per
// line. List items become "- " lines so ingredient lists survive.
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var sb strings.Builder
	writeText(doc, &sb, 0)

	lines := strings.Split(multiSpace.ReplaceAllString(sb.String(), " "), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(multiNewline.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")), nil
}

func writeText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "head", "form":
			return
		case "li":
			sb.WriteString("\n- ")
		case "br":
			sb.WriteString("\n")
		case "p", "div", "section", "article", "ul", "ol", "table", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, sb, depth+1)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "ul", "ol", "table":
			sb.WriteString("\n")
		}
	}
}
