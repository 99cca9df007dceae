// Package qr assembles the ZATCA invoice QR payload: a concatenation of
// DER-style Tag-Length-Value records, base64-encoded. It is the last
// consumer of the canonical invoice XML and the XAdES signer's outputs.
package qr

import (
	"bytes"
	"encoding/base64"

	"github.com/beevik/etree"

	"github.com/zatca-go/fatoora-client/zatcaerr"
)

// Fields are the five values extracted from the canonical invoice XML,
// carried alongside the four crypto-derived values to make the nine-tag
// TLV (tags 1..9) in spec order.
type Fields struct {
	SupplierName  string
	VAT           string
	IssueDateTime string
	PayableAmount string
	TaxAmount     string
}

// ExtractFields reads the five UBL fields this package's TLV needs out of
// a canonical invoice document.
func ExtractFields(doc *etree.Document) (Fields, error) {
	get := func(path string) (string, error) {
		el := doc.FindElement(path)
		if el == nil {
			return "", zatcaerr.XML("canonical invoice missing node at %q", path)
		}
		return el.Text(), nil
	}

	supplierName, err := get(".//cac:AccountingSupplierParty/cac:Party/cac:PartyLegalEntity/cbc:RegistrationName")
	if err != nil {
		return Fields{}, err
	}
	vat, err := get(".//cac:AccountingSupplierParty/cac:Party/cac:PartyTaxScheme/cbc:CompanyID")
	if err != nil {
		return Fields{}, err
	}
	issueDate, err := get("./cbc:IssueDate")
	if err != nil {
		return Fields{}, err
	}
	issueTime, err := get("./cbc:IssueTime")
	if err != nil {
		return Fields{}, err
	}
	payable, err := get(".//cac:LegalMonetaryTotal/cbc:PayableAmount")
	if err != nil {
		return Fields{}, err
	}
	tax, err := get(".//cac:TaxTotal/cbc:TaxAmount")
	if err != nil {
		return Fields{}, err
	}

	return Fields{
		SupplierName:  supplierName,
		VAT:           vat,
		IssueDateTime: issueDate + "T" + issueTime,
		PayableAmount: payable,
		TaxAmount:     tax,
	}, nil
}

// Signing carries the four values Component D produces that the QR also
// encodes: tags 6 through 9.
type Signing struct {
	InvoiceHash          string // base64, tag 6
	SignatureValue       string // base64, tag 7
	PublicKeyDER         []byte // raw SPKI DER, tag 8
	CertificateSignature []byte // raw DER ECDSA signature, tag 9
}

// Build assembles the base64 TLV payload from doc's extracted fields and
// signing. Records are emitted in tag order 1..9.
func Build(doc *etree.Document, signing Signing) (string, error) {
	fields, err := ExtractFields(doc)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	records := []struct {
		tag   int
		value []byte
	}{
		{1, []byte(fields.SupplierName)},
		{2, []byte(fields.VAT)},
		{3, []byte(fields.IssueDateTime)},
		{4, []byte(fields.PayableAmount)},
		{5, []byte(fields.TaxAmount)},
		{6, []byte(signing.InvoiceHash)},
		{7, []byte(signing.SignatureValue)},
		{8, signing.PublicKeyDER},
		{9, signing.CertificateSignature},
	}
	for _, r := range records {
		buf.Write(encodeRecord(r.tag, r.value))
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// encodeRecord writes tag, then value's DER-style length, then value.
func encodeRecord(tag int, value []byte) []byte {
	var buf bytes.Buffer
	buf.Write(encodeTag(tag))
	buf.Write(encodeLength(len(value)))
	buf.Write(value)
	return buf.Bytes()
}

// encodeTag emits a single byte for tag <= 31 (every tag this package
// uses, 1..9); tags above 31 would require the multi-byte high-tag-number
// form (first byte's low 5 bits all set, followed by base-128 continued
// octets), included here for contract completeness even though no caller
// exercises it.
func encodeTag(tag int) []byte {
	if tag <= 31 {
		return []byte{byte(tag)}
	}
	var rest []byte
	v := tag
	for v > 0 {
		rest = append([]byte{byte(v & 0x7F)}, rest...)
		v >>= 7
	}
	for i := 0; i < len(rest)-1; i++ {
		rest[i] |= 0x80
	}
	return append([]byte{0x1F}, rest...)
}

// encodeLength follows DER's short/long form: lengths <= 0x7F are a
// single byte; longer lengths are 0x80|n followed by n big-endian bytes.
func encodeLength(n int) []byte {
	if n <= 0x7F {
		return []byte{byte(n)}
	}
	var lenBytes []byte
	v := n
	for v > 0 {
		lenBytes = append([]byte{byte(v & 0xFF)}, lenBytes...)
		v >>= 8
	}
	return append([]byte{0x80 | byte(len(lenBytes))}, lenBytes...)
}
