package invoicerequest

import (
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/beevik/etree"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/zatca-go/fatoora-client/internal/testcert"
	"github.com/zatca-go/fatoora-client/resources"
)

const standardInvoiceXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns:cac="cac" xmlns:cbc="cbc">
  <cbc:ID>STDSI-0001</cbc:ID>
  <cbc:UUID>11111111-1111-1111-1111-111111111111</cbc:UUID>
  <cbc:IssueDate>2022-03-13</cbc:IssueDate>
  <cbc:IssueTime>14:12:41</cbc:IssueTime>
  <cbc:InvoiceTypeCode name="0100000">388</cbc:InvoiceTypeCode>
  <cac:AccountingSupplierParty>
    <cac:Party>
      <cac:PartyLegalEntity><cbc:RegistrationName>Acme Trading Co</cbc:RegistrationName></cac:PartyLegalEntity>
      <cac:PartyTaxScheme><cbc:CompanyID>399999999900003</cbc:CompanyID></cac:PartyTaxScheme>
    </cac:Party>
  </cac:AccountingSupplierParty>
  <cac:LegalMonetaryTotal><cbc:PayableAmount>100.00</cbc:PayableAmount></cac:LegalMonetaryTotal>
  <cac:TaxTotal><cbc:TaxAmount>15.00</cbc:TaxAmount></cac:TaxTotal>
</Invoice>`

const simplifiedInvoiceXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns:cac="cac" xmlns:cbc="cbc">
  <cbc:ID>SIMSI-0001</cbc:ID>
  <cbc:UUID>22222222-2222-2222-2222-222222222222</cbc:UUID>
  <cbc:IssueDate>2022-03-13</cbc:IssueDate>
  <cbc:IssueTime>14:12:41</cbc:IssueTime>
  <cbc:InvoiceTypeCode name="0200000">388</cbc:InvoiceTypeCode>
  <cac:AccountingSupplierParty>
    <cac:Party>
      <cac:PartyLegalEntity><cbc:RegistrationName>Acme Trading Co</cbc:RegistrationName></cac:PartyLegalEntity>
      <cac:PartyTaxScheme><cbc:CompanyID>399999999900003</cbc:CompanyID></cac:PartyTaxScheme>
    </cac:Party>
  </cac:AccountingSupplierParty>
  <cac:LegalMonetaryTotal><cbc:PayableAmount>100.00</cbc:PayableAmount></cac:LegalMonetaryTotal>
  <cac:TaxTotal><cbc:TaxAmount>15.00</cbc:TaxAmount></cac:TaxTotal>
</Invoice>`

func loadDoc(t *testing.T, xml string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(xml))
	return doc
}

func selfSignedCertBase64(t *testing.T) string {
	t.Helper()
	subject := pkix.Name{CommonName: "ZATCA CA"}
	der, _, err := testcert.SelfSigned(subject, big.NewInt(1))
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der)
}

func testTemplates() *resources.Loaded {
	return &resources.Loaded{
		UBLSignatureTemplate: `<sig>INVOICE_HASH|SIGNED_PROPERTIES|SIGNATURE_VALUE|CERTIFICATE_CONTENT|SIGNATURE_TIMESTAMP|PUBLICKEY_HASHING|ISSUER_NAME|SERIAL_NUMBER</sig>`,
		QRWrapperTemplate:    `<qr>QR_CONTENT</qr>`,
	}
}

func TestBuild_StandardInvoiceIsNotSigned(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	payload, err := Build(loadDoc(t, standardInvoiceXML), priv, selfSignedCertBase64(t), testTemplates())
	require.NoError(t, err)
	require.False(t, payload.IsSimplified)
	require.Equal(t, "11111111-1111-1111-1111-111111111111", payload.UUID)

	decoded, err := base64.StdEncoding.DecodeString(payload.Invoice)
	require.NoError(t, err)
	require.Contains(t, string(decoded), `<?xml version="1.0" encoding="UTF-8"?>`)
	require.NotContains(t, string(decoded), "<sig>")
}

func TestBuild_SimplifiedInvoiceIsSigned(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	payload, err := Build(loadDoc(t, simplifiedInvoiceXML), priv, selfSignedCertBase64(t), testTemplates())
	require.NoError(t, err)
	require.True(t, payload.IsSimplified)

	decoded, err := base64.StdEncoding.DecodeString(payload.Invoice)
	require.NoError(t, err)
	require.Contains(t, string(decoded), "<sig>")
	require.Contains(t, string(decoded), "<qr>")
}
