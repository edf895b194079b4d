package ooxml

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Child returns the first child element with the given local name. Nil-safe.
func Child(el *etree.Element, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// Children returns all child elements with the given local name. Nil-safe.
func Children(el *etree.Element, tag string) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// RelID returns the relationship id attribute (r:id under any prefix)
func RelID(el *etree.Element) string {
	if a := relAttr(el); a != nil {
		return a.Value
	}
	return ""
}

// SetRelID overwrites the relationship id attribute and reports whether one was present
func SetRelID(el *etree.Element, id string) bool {
	a := relAttr(el)
	if a == nil {
		return false
	}
	a.Value = id
	return true
}

func relAttr(el *etree.Element) *etree.Attr {
	if el == nil {
		return nil
	}
	for i := range el.Attr {
		if el.Attr[i].Key == "id" && el.Attr[i].Space != "" {
			return &el.Attr[i]
		}
	}
	return nil
}

// newSibling creates an element in the same namespace prefix as parent
func newSibling(parent *etree.Element, tag string) *etree.Element {
	el := etree.NewElement(tag)
	el.Space = parent.Space
	return el
}

// RemoveRelationships drops every relationship whose target resolves to part.
// base is the directory the relationship part's targets are relative to.
func RemoveRelationships(doc *etree.Document, base, part string) int {
	removed := 0
	for _, rel := range Children(doc.Root(), "Relationship") {
		if ResolveTarget(base, rel.SelectAttrValue("Target", "")) == part {
			doc.Root().RemoveChild(rel)
			removed++
		}
	}
	return removed
}

// RemoveOverride drops the content-type override for part
func RemoveOverride(doc *etree.Document, part string) int {
	removed := 0
	for _, o := range Children(doc.Root(), "Override") {
		if strings.TrimPrefix(o.SelectAttrValue("PartName", ""), "/") == part {
			doc.Root().RemoveChild(o)
			removed++
		}
	}
	return removed
}

// EnsureOverride adds a content-type override for part unless one exists. It reports
// whether the document changed.
func EnsureOverride(doc *etree.Document, part, contentType string) bool {
	for _, o := range Children(doc.Root(), "Override") {
		if strings.TrimPrefix(o.SelectAttrValue("PartName", ""), "/") == part {
			return false
		}
	}
	o := newSibling(doc.Root(), "Override")
	o.CreateAttr("PartName", "/"+part)
	o.CreateAttr("ContentType", contentType)
	doc.Root().AddChild(o)
	return true
}

// EnsureRelationship adds a relationship to part unless one resolves to it already.
// base is the directory the relationship part's targets are relative to. The new id is
// one above the highest rIdN in use; it is "" when nothing was added.
func EnsureRelationship(doc *etree.Document, base, part, relType string) string {
	highest := 0
	for _, rel := range Children(doc.Root(), "Relationship") {
		if ResolveTarget(base, rel.SelectAttrValue("Target", "")) == part {
			return ""
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(rel.SelectAttrValue("Id", ""), "rId")); err == nil && n > highest {
			highest = n
		}
	}
	id := "rId" + strconv.Itoa(highest+1)
	rel := newSibling(doc.Root(), "Relationship")
	rel.CreateAttr("Id", id)
	rel.CreateAttr("Type", relType)
	rel.CreateAttr("Target", strings.TrimPrefix(part, base+"/"))
	doc.Root().AddChild(rel)
	return id
}
