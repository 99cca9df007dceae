// Package invoice applies per-document mutations to a UBL invoice
// template: identifiers, timestamps, the ICV/PIH chain, and the
// instruction-note/billing-reference toggle. It never mutates the
// template it is given — every call works on a clone, the same
// discipline the teacher's converters package uses when building a UBL
// tree from a struct instead of a template.
package invoice

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/zatca-go/fatoora-client/zatcaerr"
)

// Riyadh is Asia/Riyadh, UTC+03:00 with no daylight-saving adjustment.
var Riyadh = time.FixedZone("AST", 3*60*60)

// TypeCode names the UBL InvoiceTypeCode@name capability bitmap prefix.
type TypeCode struct {
	Name  string // e.g. "0100000" (standard) or "0200000" (simplified)
	Value string // e.g. "388", "383", "381"
}

// Mutation carries the values Apply substitutes into the cloned template.
type Mutation struct {
	DocumentID      string
	TypeCode        TypeCode
	ICV             int
	PIH             string
	InstructionNote string
	VAT             string
	CRN             string
	InvoiceCode     string // taxpayer-assigned capability code; Apply does not write it into the document
}

// Apply clones template and substitutes Mutation's values into it,
// returning the new document. template is left untouched.
func Apply(template *etree.Document, m Mutation) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.SetRoot(template.Root().Copy())
	doc.WriteSettings = template.WriteSettings

	if err := setText(doc, "./cbc:ID", m.DocumentID); err != nil {
		return nil, err
	}

	newUUID := strings.ToUpper(uuid.New().String())
	if err := setText(doc, "./cbc:UUID", newUUID); err != nil {
		return nil, err
	}

	now := time.Now().In(Riyadh)
	issueDate := now.Format("2006-01-02")
	issueTime := now.Format("15:04:05")
	if err := setText(doc, "./cbc:IssueDate", issueDate); err != nil {
		return nil, err
	}
	if err := setText(doc, "./cbc:IssueTime", issueTime); err != nil {
		return nil, err
	}

	typeCodeEl := doc.FindElement("./cbc:InvoiceTypeCode")
	if typeCodeEl == nil {
		return nil, zatcaerr.XML("template missing cbc:InvoiceTypeCode")
	}
	typeCodeEl.SetText(m.TypeCode.Value)
	typeCodeEl.CreateAttr("name", m.TypeCode.Name)

	if err := setText(doc, "./cac:AdditionalDocumentReference[cbc:ID='ICV']/cbc:UUID", strconv.Itoa(m.ICV)); err != nil {
		return nil, err
	}
	if err := setText(doc, "./cac:AdditionalDocumentReference[cbc:ID='PIH']/cac:Attachment/cbc:EmbeddedDocumentBinaryObject", m.PIH); err != nil {
		return nil, err
	}

	if err := setText(doc, ".//cac:AccountingSupplierParty//cac:PartyIdentification/cbc:ID", m.CRN); err != nil {
		return nil, err
	}
	if err := setText(doc, ".//cac:AccountingSupplierParty//cac:PartyTaxScheme/cbc:CompanyID", m.VAT); err != nil {
		return nil, err
	}

	if el := doc.FindElement("./cbc:ActualDeliveryDate"); el != nil {
		el.SetText(issueDate)
	}

	if m.InstructionNote != "" {
		paymentMeans := doc.FindElement("./cac:PaymentMeans")
		if paymentMeans == nil {
			return nil, zatcaerr.XML("template missing cac:PaymentMeans for instruction note")
		}
		note := paymentMeans.CreateElement("cbc:InstructionNote")
		note.SetText(m.InstructionNote)
	} else {
		for _, el := range doc.FindElements(".//cac:BillingReference") {
			el.Parent().RemoveChild(el)
		}
	}

	return doc, nil
}

func setText(doc *etree.Document, path, value string) error {
	el := doc.FindElement(path)
	if el == nil {
		return zatcaerr.XML("template missing required node at %q", path)
	}
	el.SetText(value)
	return nil
}

// IsSimplified reports whether a document's InvoiceTypeCode@name marks it
// as a simplified (B2C) invoice, i.e. starts with "02".
func IsSimplified(doc *etree.Document) (bool, error) {
	el := doc.FindElement("./cbc:InvoiceTypeCode")
	if el == nil {
		return false, zatcaerr.XML("document missing cbc:InvoiceTypeCode")
	}
	name := el.SelectAttrValue("name", "")
	return strings.HasPrefix(name, "02"), nil
}
