package canon

import "github.com/beevik/etree"

// sortAttrsC14N orders an element's attributes the way Canonical XML 1.0
// requires: namespace declarations first (the default xmlns, then
// xmlns:prefix declarations sorted by prefix), followed by the element's
// remaining attributes sorted by (resolved namespace URI, local name).
// Namespace resolution is required, not prefix-text comparison: two
// attributes in different namespaces sort by their namespace URIs even
// when their prefixes would order the other way.
func sortAttrsC14N(attrs []etree.Attr) []etree.Attr {
	prefixToURI := map[string]string{}
	var nsDecls, plain []etree.Attr

	for _, a := range attrs {
		switch {
		case a.Space == "" && a.Key == "xmlns":
			prefixToURI[""] = a.Value
			nsDecls = append(nsDecls, a)
		case a.Space == "xmlns":
			prefixToURI[a.Key] = a.Value
			nsDecls = append(nsDecls, a)
		default:
			plain = append(plain, a)
		}
	}

	sortByKey(nsDecls, func(a etree.Attr) string {
		if a.Space == "" {
			return "" // default xmlns sorts before any xmlns:prefix
		}
		return "\x01" + a.Key
	})

	sortByKey(plain, func(a etree.Attr) string {
		uri := "" // an unprefixed attribute is in no namespace
		if a.Space != "" {
			uri = prefixToURI[a.Space]
		}
		return uri + "\x00" + a.Key
	})

	out := make([]etree.Attr, 0, len(attrs))
	out = append(out, nsDecls...)
	out = append(out, plain...)
	return out
}

// sortByKey insertion-sorts attrs by the string keyFn produces; the
// attribute counts involved (a handful per element) make this cheaper
// and clearer than wiring up sort.Interface for a one-off comparator.
func sortByKey(attrs []etree.Attr, keyFn func(etree.Attr) string) {
	for i := 1; i < len(attrs); i++ {
		j := i
		for j > 0 && keyFn(attrs[j-1]) > keyFn(attrs[j]) {
			attrs[j-1], attrs[j] = attrs[j], attrs[j-1]
			j--
		}
	}
}
