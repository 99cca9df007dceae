package xades

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/zatca-go/fatoora-client/internal/testcert"
	"github.com/zatca-go/fatoora-client/resources"
)

// selfSignedCertBase64 builds a throwaway secp256k1 self-signed
// certificate with an issuer RDN sequence ordered DC, DC, CN — so
// reverse-DC, then-CN rendering is actually exercised — and returns its
// base64 DER body with PEM framing already stripped, the way ZATCA
// returns binarySecurityToken.
func selfSignedCertBase64(t *testing.T) string {
	t.Helper()

	oidDC := asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	// Self-signed: the output certificate's Issuer comes from the signing
	// parent's Subject, so the DN carrying DC/CN must live in Subject here.
	subject := pkix.Name{
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: oidDC, Value: "sa"},
			{Type: oidDC, Value: "zatca"},
			{Type: asn1.ObjectIdentifier{2, 5, 4, 3}, Value: "ZATCA CA"},
		},
	}

	der, _, err := testcert.SelfSigned(subject, big.NewInt(123456789))
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der)
}

func testTemplates() *resources.Loaded {
	return &resources.Loaded{
		UBLSignatureTemplate: `<sig>INVOICE_HASH|SIGNED_PROPERTIES|SIGNATURE_VALUE|CERTIFICATE_CONTENT|SIGNATURE_TIMESTAMP|PUBLICKEY_HASHING|ISSUER_NAME|SERIAL_NUMBER</sig>`,
		QRWrapperTemplate:    `<qr>QR_CONTENT</qr>`,
	}
}

const testInvoiceXML = `<Invoice xmlns:cac="cac" xmlns:cbc="cbc"><cbc:ID>SME00001</cbc:ID>
  <cbc:IssueDate>2022-03-13</cbc:IssueDate>
  <cbc:IssueTime>14:12:41</cbc:IssueTime>
  <cac:AccountingSupplierParty>
    <cac:Party>
      <cac:PartyLegalEntity><cbc:RegistrationName>Acme Trading Co</cbc:RegistrationName></cac:PartyLegalEntity>
      <cac:PartyTaxScheme><cbc:CompanyID>399999999900003</cbc:CompanyID></cac:PartyTaxScheme>
    </cac:Party>
  </cac:AccountingSupplierParty>
  <cac:LegalMonetaryTotal><cbc:PayableAmount>100.00</cbc:PayableAmount></cac:LegalMonetaryTotal>
  <cac:TaxTotal><cbc:TaxAmount>15.00</cbc:TaxAmount></cac:TaxTotal>
</Invoice>`

func TestSign_SplicesSignatureAndQRAtExpectedAnchors(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	rawHash := [32]byte{1, 2, 3}
	base64Hash := base64.StdEncoding.EncodeToString(rawHash[:])

	result, err := Sign(Input{
		CanonicalXML:   []byte(testInvoiceXML),
		Base64Hash:     base64Hash,
		PrivateKey:     priv,
		CertBase64Body: selfSignedCertBase64(t),
		Templates:      testTemplates(),
	})
	require.NoError(t, err)

	out := string(result.SplicedXML)
	require.Contains(t, out, "<sig>")
	require.Contains(t, out, "<qr>")
	require.Contains(t, out, base64Hash)
	require.NotEmpty(t, result.QRBase64)

	// signature block lands right after the root open tag
	sigPos := len(`<Invoice xmlns:cac="cac" xmlns:cbc="cbc">`)
	require.Contains(t, out[sigPos:sigPos+6], "<sig>")

	// QR wrapper lands before AccountingSupplierParty
	qrIdx := indexOf(out, "<qr>")
	anchorIdx := indexOf(out, "<cac:AccountingSupplierParty>")
	require.True(t, qrIdx < anchorIdx)
}

func TestSign_MissingAnchorFails(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, err = Sign(Input{
		CanonicalXML:   []byte(`<Invoice xmlns:cbc="cbc"><cbc:ID>1</cbc:ID></Invoice>`),
		Base64Hash:     base64.StdEncoding.EncodeToString([]byte("01234567890123456789012345678901")),
		PrivateKey:     priv,
		CertBase64Body: selfSignedCertBase64(t),
		Templates:      testTemplates(),
	})
	require.Error(t, err)
}

func TestDoubleEncodedHash_IsNotPlainSHA256(t *testing.T) {
	h := doubleEncodedHash("hello")
	decoded, err := base64.StdEncoding.DecodeString(h)
	require.NoError(t, err)
	// the decoded bytes are a hex *string*, not a 32-byte raw digest
	require.Len(t, decoded, 64)
}

func TestRenderIssuerName_CommonNameFirstThenReversedDC(t *testing.T) {
	certB64 := selfSignedCertBase64(t)
	cert, err := rehydrateCertificate(certB64)
	require.NoError(t, err)

	got := renderIssuerName(cert.Issuer)
	require.Equal(t, "CN=ZATCA CA, DC=zatca, DC=sa", got)
}

func TestRehydrateCertificate_ExposesSerialAndSignature(t *testing.T) {
	certB64 := selfSignedCertBase64(t)
	cert, err := rehydrateCertificate(certB64)
	require.NoError(t, err)

	require.Equal(t, "123456789", cert.SerialNumber.String())
	require.NotEmpty(t, cert.RawSubjectPublicKeyInfo)
	require.NotEmpty(t, cert.Signature)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
