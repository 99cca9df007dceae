// Package invoicerequest turns a mutated UBL document into the three
// field JSON payload (invoiceHash, uuid, invoice) every ZATCA endpoint
// after CSR issuance accepts: canonicalize, sign if the document is
// simplified, then base64-encode the whole declaration-plus-body.
//
// This is the one place standard and simplified invoices diverge: a
// standard invoice is hashed and encoded as-is; a simplified invoice
// additionally carries the XAdES signature block and QR code the
// clearance/reporting endpoint and the printed receipt both need.
package invoicerequest

import (
	"encoding/base64"

	"github.com/beevik/etree"

	"github.com/zatca-go/fatoora-client/canon"
	"github.com/zatca-go/fatoora-client/invoice"
	"github.com/zatca-go/fatoora-client/resources"
	"github.com/zatca-go/fatoora-client/xades"
	"github.com/zatca-go/fatoora-client/zatcaerr"

	"github.com/btcsuite/btcd/btcec/v2"
)

const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`

// Payload is the JSON body ZATCA's compliance-checks, reporting, and
// clearance endpoints all accept.
type Payload struct {
	InvoiceHash  string `json:"invoiceHash"`
	UUID         string `json:"uuid"`
	Invoice      string `json:"invoice"`
	IsSimplified bool   `json:"-"`
}

// Build canonicalizes doc, signs it if it is a simplified invoice (its
// InvoiceTypeCode@name starts with "02"), and base64-encodes the
// resulting XML with a leading declaration line.
func Build(doc *etree.Document, priv *btcec.PrivateKey, certBase64Body string, templates *resources.Loaded) (*Payload, error) {
	root := doc.Root()
	if root == nil {
		return nil, zatcaerr.XML("invoice document has no root element")
	}

	uuidEl := root.FindElement("./cbc:UUID")
	if uuidEl == nil {
		return nil, zatcaerr.XML("invoice document missing cbc:UUID")
	}
	uuid := uuidEl.Text()

	isSimplified, err := invoice.IsSimplified(doc)
	if err != nil {
		return nil, err
	}

	canonicalBytes, base64Hash, err := canon.Canonicalize(doc)
	if err != nil {
		return nil, err
	}

	finalXML := canonicalBytes
	if isSimplified {
		result, err := xades.Sign(xades.Input{
			CanonicalXML:   canonicalBytes,
			Base64Hash:     base64Hash,
			PrivateKey:     priv,
			CertBase64Body: certBase64Body,
			Templates:      templates,
		})
		if err != nil {
			return nil, err
		}
		finalXML = result.SplicedXML
	}

	encoded := xmlDeclaration + "\n" + string(finalXML)
	invoiceBase64 := base64.StdEncoding.EncodeToString([]byte(encoded))

	return &Payload{
		InvoiceHash:  base64Hash,
		UUID:         uuid,
		Invoice:      invoiceBase64,
		IsSimplified: isSimplified,
	}, nil
}
