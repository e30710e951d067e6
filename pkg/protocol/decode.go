package protocol

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RootTag is the synthetic wrapper that makes a fragment a single document.
const RootTag = "root"

// nullText decodes to the null marker like empty text does.
const nullText = "None"

type element struct {
	name     string
	attrs    []xml.Attr
	text     strings.Builder
	children []*element
}

// Wrap surrounds text with the synthetic root element.
func Wrap(text string) string {
	return "<" + RootTag + ">" + strings.TrimSpace(text) + "</" + RootTag + ">"
}

// Decode parses a markup fragment into a Map without any repair.
//
// Text leaves decode to strings, with empty text and "None" decoding to nil.
// Elements with children or attributes decode to maps holding both; text
// between child elements is ignored. A repeated child tag or attribute returns
// *DuplicateError, an attribute named like a child returns *CollisionError and
// a text leaf with attributes returns ErrAttributedText.
func Decode(markup string) (*Map, error) {
	wrapped := Wrap(markup)

	root, err := parse(wrapped)
	if err != nil {
		return nil, err
	}

	value, err := root.value()
	if err != nil {
		return nil, err
	}

	m, ok := value.(*Map)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrRootNotMap, value)
	}
	return m, nil
}

func parse(text string) (*element, error) {
	decoder := xml.NewDecoder(strings.NewReader(text))
	decoder.Strict = true

	var (
		root  *element
		stack []*element
	)

	syntaxErr := func(err error) error {
		var xmlErr *xml.SyntaxError
		if errors.As(err, &xmlErr) {
			return &SyntaxError{Text: text, Line: xmlErr.Line, Err: err}
		}
		line, _ := decoder.InputPos()
		return &SyntaxError{Text: text, Line: line, Err: err}
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, syntaxErr(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local, attrs: t.Attr}
			if len(stack) == 0 {
				if root != nil {
					return nil, syntaxErr(fmt.Errorf("unexpected element <%s> after document root", el.name))
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}

	if len(stack) > 0 || root == nil {
		return nil, syntaxErr(io.ErrUnexpectedEOF)
	}
	return root, nil
}

// value converts an element: text leaves become text or nil, other elements
// become maps that carry the element's attributes next to its children.
func (e *element) value() (any, error) {
	text := e.text.String()
	if len(e.children) == 0 && len(e.attrs) == 0 {
		if text == "" || text == nullText {
			return nil, nil
		}
		return text, nil
	}
	if len(e.children) == 0 && strings.TrimSpace(text) != "" {
		return nil, fmt.Errorf("%w: <%s>", ErrAttributedText, e.name)
	}

	m := NewMap()
	attrs := make(map[string]bool, len(e.attrs))
	for _, attr := range e.attrs {
		if attrs[attr.Name.Local] {
			return nil, &DuplicateError{Element: e.name, Name: attr.Name.Local}
		}
		m.Set(attr.Name.Local, attr.Value)
		attrs[attr.Name.Local] = true
	}

	for _, child := range e.children {
		if attrs[child.name] {
			return nil, &CollisionError{Element: e.name, Name: child.name}
		}
		if _, seen := m.Get(child.name); seen {
			return nil, &DuplicateError{Element: e.name, Name: child.name}
		}
		v, err := child.value()
		if err != nil {
			return nil, err
		}
		m.Set(child.name, v)
	}

	return m, nil
}
