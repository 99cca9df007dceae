package canon

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"
)

func TestSortAttrsC14N_NamespaceURIOrderNotPrefixOrder(t *testing.T) {
	input := `<e5 a:attr="out" b:attr="sorted" attr2="all" attr="I m" xmlns:b="http://www.ietf.org" xmlns:a="http://www.w3.org" xmlns="http://example.org"></e5>`
	expected := `<e5 xmlns="http://example.org" xmlns:a="http://www.w3.org" xmlns:b="http://www.ietf.org" attr="I m" attr2="all" b:attr="sorted" a:attr="out"></e5>`

	inDoc := etree.NewDocument()
	require.NoError(t, inDoc.ReadFromString(input))

	outElm := inDoc.Root().Copy()
	outElm.Attr = sortAttrsC14N(outElm.Attr)

	outDoc := etree.NewDocument()
	outDoc.SetRoot(outElm)
	outDoc.WriteSettings = etree.WriteSettings{CanonicalEndTags: true}

	outStr, err := outDoc.WriteToString()
	require.NoError(t, err)
	require.Equal(t, expected, outStr)
}

func TestCanonicalize_StripsUBLExtensionsAndSignature(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<Invoice xmlns:ext="ext" xmlns:cac="cac" xmlns:cbc="cbc">
  <ext:UBLExtensions><ext:UBLExtension>keep-out</ext:UBLExtension></ext:UBLExtensions>
  <cac:Signature>sig-goes-here</cac:Signature>
  <cbc:ID>SME00001</cbc:ID>
</Invoice>`))

	bytesOut, hash, err := Canonicalize(doc)
	require.NoError(t, err)
	require.NotContains(t, string(bytesOut), "keep-out")
	require.NotContains(t, string(bytesOut), "sig-goes-here")
	require.Contains(t, string(bytesOut), "SME00001")
	require.NotEmpty(t, hash)
}

func TestCanonicalize_DeterministicHash(t *testing.T) {
	xml := `<Invoice xmlns:cbc="cbc"><cbc:ID>SME00001</cbc:ID></Invoice>`
	doc1 := etree.NewDocument()
	require.NoError(t, doc1.ReadFromString(xml))
	doc2 := etree.NewDocument()
	require.NoError(t, doc2.ReadFromString(xml))

	_, hash1, err := Canonicalize(doc1)
	require.NoError(t, err)
	_, hash2, err := Canonicalize(doc2)
	require.NoError(t, err)

	require.Equal(t, hash1, hash2)
}

func TestCanonicalize_DropsDuplicateNamespaceRedeclaration(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<a xmlns:x="urn:x"><b xmlns:x="urn:x">hi</b></a>`))
	out, _, err := Canonicalize(doc)
	require.NoError(t, err)
	// the inner redeclaration of xmlns:x with the same URI must not repeat
	require.Equal(t, 1, countOccurrences(string(out), `xmlns:x="urn:x"`))
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
			i += len(substr) - 1
		}
	}
	return count
}
