// Package canon implements the two steps between a mutated UBL document
// and its invoice hash: the ZATCA pre-hash strip (in place of the
// supplied XSLT stylesheet — see Strip's doc comment) and inclusive
// Canonical XML 1.0 serialization without comments, the algorithm
// "http://www.w3.org/TR/2001/REC-xml-c14n-20010315".
//
// The canonicalizer here is adapted from goxmldsig's non-exclusive C14N
// path (by way of l-d-t-fiskalhrgo's canonicalization.go, itself ported
// from the same project): attribute and namespace ordering rules that
// both libraries already implement correctly and that this system must
// reproduce byte-for-byte.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"

	"github.com/beevik/etree"

	"github.com/zatca-go/fatoora-client/zatcaerr"
)

// strippedElements names the UBL nodes ZATCA's stylesheet removes before
// hashing by element name alone: the UBL extensions block (signature
// placeholder) and the signature element itself. The QR code's
// AdditionalDocumentReference is matched by its cbc:ID and removed
// separately in Strip.
var strippedElements = []string{
	"UBLExtensions",
	"Signature",
}

// Strip reproduces, natively, the effect of the XSLT stylesheet ZATCA
// supplies out of band (spec treats its exact contents as a fixed
// external contract — see spec.md section 1). The stylesheet's
// documented job is narrow and stable: delete the UBL extensions
// wrapper, any signature element, and the QR AdditionalDocumentReference
// before the document is hashed. Go ships no XSLT engine and the
// example corpus carries none either (AlejandroMBJS-IRIS's cfdi_service
// treats the analogous SAT transform as an external step rather than
// implementing an interpreter); reproducing the stylesheet's fixed,
// spec-documented effect directly over the etree tree avoids a cgo
// libxslt binding for a single-purpose, already-specified transform.
func Strip(doc *etree.Document) *etree.Document {
	out := etree.NewDocument()
	out.SetRoot(doc.Root().Copy())

	root := out.Root()
	for _, name := range strippedElements {
		for _, el := range root.FindElements(".//" + name) {
			if el.Parent() != nil {
				el.Parent().RemoveChild(el)
			}
		}
	}
	for _, el := range root.FindElements(".//AdditionalDocumentReference[cbc:ID='QR']") {
		if el.Parent() != nil {
			el.Parent().RemoveChild(el)
		}
	}
	return out
}

// Canonicalize applies Strip, then serializes the result using inclusive
// Canonical XML 1.0 without comments, and returns both the canonical
// bytes and base64(SHA-256(canonicalBytes)).
func Canonicalize(doc *etree.Document) (canonicalBytes []byte, base64Hash string, err error) {
	stripped := Strip(doc)
	root := stripped.Root()
	if root == nil {
		return nil, "", zatcaerr.XML("document has no root element")
	}

	prepped := canonicalPrep(root)
	canonicalBytes, err = serialize(prepped)
	if err != nil {
		return nil, "", zatcaerr.XMLWrap(err, "serializing canonical XML")
	}

	sum := sha256.Sum256(canonicalBytes)
	base64Hash = base64.StdEncoding.EncodeToString(sum[:])
	return canonicalBytes, base64Hash, nil
}

// canonicalPrep copies el, strips duplicate namespace redeclarations,
// strips comments, and sorts each element's attributes into C14N order.
// Inclusive canonicalization does not prune namespaces that are unused
// in a subtree, only exact redeclarations already seen on an ancestor.
func canonicalPrep(el *etree.Element) *etree.Element {
	return canonicalPrepInner(el, map[string]string{})
}

func canonicalPrepInner(el *etree.Element, seen map[string]string) *etree.Element {
	childSeen := make(map[string]string, len(seen))
	for k, v := range seen {
		childSeen[k] = v
	}

	ne := el.Copy()
	ne.Attr = sortAttrsC14N(ne.Attr)

	n := 0
	for _, attr := range ne.Attr {
		if attr.Space != "xmlns" && !(attr.Space == "" && attr.Key == "xmlns") {
			ne.Attr[n] = attr
			n++
			continue
		}
		key := nsKey(attr)
		if uri, ok := childSeen[key]; !ok || uri != attr.Value {
			ne.Attr[n] = attr
			n++
			childSeen[key] = attr.Value
		}
	}
	ne.Attr = ne.Attr[:n]

	c := 0
	for c < len(ne.Child) {
		if _, ok := ne.Child[c].(*etree.Comment); ok {
			ne.RemoveChildAt(c)
			continue
		}
		c++
	}

	for i, token := range ne.Child {
		if child, ok := token.(*etree.Element); ok {
			ne.Child[i] = canonicalPrepInner(child, childSeen)
		}
	}

	return ne
}

func nsKey(attr etree.Attr) string {
	if attr.Space == "xmlns" {
		return "xmlns:" + attr.Key
	}
	if attr.Space == "" && attr.Key == "xmlns" {
		return "xmlns"
	}
	return "\x00attr:" + attr.Space + ":" + attr.Key
}

func serialize(el *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	doc.WriteSettings = etree.WriteSettings{
		CanonicalAttrVal: true,
		CanonicalEndTags: true,
		CanonicalText:    true,
	}
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
