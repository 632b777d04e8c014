package api

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// xmlToMap decodes an XML document into nested maps. Element text becomes a
// string value, nested elements become maps, and repeated siblings collapse
// into a slice, mirroring how the order documents are shaped.
func xmlToMap(r io.Reader) (map[string]any, error) {
	decoder := xml.NewDecoder(r)
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("document has no root element: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			value, err := decodeElement(decoder, start)
			if err != nil {
				return nil, err
			}
			root := map[string]any{}
			root[start.Name.Local] = value
			if m, ok := value.(map[string]any); ok {
				// Expose the root's children at the top level too, which is
				// where callers look for ids.
				for k, v := range m {
					if _, exists := root[k]; !exists {
						root[k] = v
					}
				}
			}
			return root, nil
		}
	}
}

// decodeElement consumes one element and its subtree. It returns a string
// for leaf elements and a map for elements with children.
func decodeElement(decoder *xml.Decoder, start xml.StartElement) (any, error) {
	children := map[string]any{}
	for _, attr := range start.Attr {
		children["@"+attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("unterminated element %s: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(decoder, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			if existing, ok := children[name]; ok {
				if list, ok := existing.([]any); ok {
					children[name] = append(list, child)
				} else {
					children[name] = []any{existing, child}
				}
			} else {
				children[name] = child
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) == 0 {
				return strings.TrimSpace(text.String()), nil
			}
			if trimmed := strings.TrimSpace(text.String()); trimmed != "" {
				children["#text"] = trimmed
			}
			return children, nil
		}
	}
}
