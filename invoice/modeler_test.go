package invoice

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"
)

const templateXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
         xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
         xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>SME00001</cbc:ID>
  <cbc:UUID>00000000-0000-0000-0000-000000000000</cbc:UUID>
  <cbc:IssueDate>2000-01-01</cbc:IssueDate>
  <cbc:IssueTime>00:00:00</cbc:IssueTime>
  <cbc:InvoiceTypeCode name="0100000">388</cbc:InvoiceTypeCode>
  <cbc:ActualDeliveryDate>2000-01-01</cbc:ActualDeliveryDate>
  <cac:AdditionalDocumentReference>
    <cbc:ID>ICV</cbc:ID>
    <cbc:UUID>0</cbc:UUID>
  </cac:AdditionalDocumentReference>
  <cac:AdditionalDocumentReference>
    <cbc:ID>PIH</cbc:ID>
    <cac:Attachment>
      <cbc:EmbeddedDocumentBinaryObject mimeCode="text/plain"></cbc:EmbeddedDocumentBinaryObject>
    </cac:Attachment>
  </cac:AdditionalDocumentReference>
  <cac:AccountingSupplierParty>
    <cac:Party>
      <cac:PartyIdentification>
        <cbc:ID schemeID="CRN"></cbc:ID>
      </cac:PartyIdentification>
      <cac:PartyTaxScheme>
        <cbc:CompanyID></cbc:CompanyID>
      </cac:PartyTaxScheme>
    </cac:Party>
  </cac:AccountingSupplierParty>
  <cac:PaymentMeans>
    <cbc:PaymentMeansCode>10</cbc:PaymentMeansCode>
  </cac:PaymentMeans>
  <cac:BillingReference>
    <cac:InvoiceDocumentReference>
      <cbc:ID>SME00000</cbc:ID>
    </cac:InvoiceDocumentReference>
  </cac:BillingReference>
</Invoice>`

func loadTemplate(t *testing.T) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(templateXML))
	return doc
}

func TestApply_DoesNotMutateTemplate(t *testing.T) {
	tpl := loadTemplate(t)
	_, err := Apply(tpl, Mutation{
		DocumentID: "SME00002",
		TypeCode:   TypeCode{Name: "0200000", Value: "388"},
		ICV:        1,
		PIH:        "abc",
		VAT:        "399999999900003",
		CRN:        "1010101010",
	})
	require.NoError(t, err)

	idEl := tpl.FindElement("./cbc:ID")
	require.Equal(t, "SME00001", idEl.Text())
}

func TestApply_SimplifiedWithInstructionNoteKeepsBillingRef(t *testing.T) {
	tpl := loadTemplate(t)
	doc, err := Apply(tpl, Mutation{
		DocumentID:      "SME00002",
		TypeCode:        TypeCode{Name: "0200000", Value: "381"},
		ICV:             2,
		PIH:             "somehash",
		InstructionNote: "credit issued for return",
		VAT:             "399999999900003",
		CRN:             "1010101010",
	})
	require.NoError(t, err)

	require.Equal(t, "SME00002", doc.FindElement("./cbc:ID").Text())
	require.Equal(t, "2", doc.FindElement("./cac:AdditionalDocumentReference[cbc:ID='ICV']/cbc:UUID").Text())
	require.Equal(t, "somehash", doc.FindElement("./cac:AdditionalDocumentReference[cbc:ID='PIH']/cac:Attachment/cbc:EmbeddedDocumentBinaryObject").Text())

	note := doc.FindElement("./cac:PaymentMeans/cbc:InstructionNote")
	require.NotNil(t, note)
	require.Equal(t, "credit issued for return", note.Text())

	// BillingReference is untouched when a note is present.
	require.NotNil(t, doc.FindElement(".//cac:BillingReference"))

	simplified, err := IsSimplified(doc)
	require.NoError(t, err)
	require.True(t, simplified)
}

func TestApply_EmptyInstructionNoteRemovesBillingReference(t *testing.T) {
	tpl := loadTemplate(t)
	doc, err := Apply(tpl, Mutation{
		DocumentID: "SME00003",
		TypeCode:   TypeCode{Name: "0100000", Value: "388"},
		ICV:        3,
		PIH:        "otherhash",
		VAT:        "399999999900003",
		CRN:        "1010101010",
	})
	require.NoError(t, err)
	require.Nil(t, doc.FindElement(".//cac:BillingReference"))

	simplified, err := IsSimplified(doc)
	require.NoError(t, err)
	require.False(t, simplified)
}

func TestApply_MissingAnchorFails(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<Invoice xmlns:cbc="x"><cbc:ID>1</cbc:ID></Invoice>`))
	_, err := Apply(doc, Mutation{DocumentID: "x"})
	require.Error(t, err)
}
