// Package xades builds the XAdES SignedProperties fragment, signs a
// simplified invoice's canonical digest, and splices the resulting
// signature block and QR wrapper into the canonical XML by string
// insertion rather than tree manipulation — spec.md section 9 calls this
// out explicitly: re-serializing through the XML tree after signing
// would change whitespace and invalidate the hash the signature covers.
package xades

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/zatca-go/fatoora-client/invoice"
	"github.com/zatca-go/fatoora-client/qr"
	"github.com/zatca-go/fatoora-client/resources"
	"github.com/zatca-go/fatoora-client/zatcaerr"
)

var (
	oidCommonName      = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidDomainComponent = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
)

// certificate mirrors X.509's outer Certificate ::= SEQUENCE {
// tbsCertificate, signatureAlgorithm, signatureValue } structure just
// far enough to reach the fields xades needs, without routing through
// crypto/x509.ParseCertificate. That parser's public-key decoder
// (namedCurveFromOID) recognizes only the four NIST curves and returns
// "x509: unsupported elliptic curve" for any secp256k1 key — and every
// certificate ZATCA issues is secp256k1. Parsing the ASN.1 by hand
// sidesteps that restriction entirely; encoding/asn1 itself has no
// notion of curves to object to.
type certificate struct {
	TBSCertificate     asn1.RawValue
	SignatureAlgorithm asn1.RawValue
	SignatureValue     asn1.BitString
}

type tbsCertificate struct {
	Version      int `asn1:"optional,explicit,default:0,tag:0"`
	SerialNumber *big.Int
	Signature    asn1.RawValue
	Issuer       asn1.RawValue
	Validity     asn1.RawValue
	Subject      asn1.RawValue
	PublicKey    asn1.RawValue
}

// parsedCertificate carries the handful of certificate fields the
// SignedProperties fragment and the QR payload need.
type parsedCertificate struct {
	Issuer                  pkix.Name
	SerialNumber            *big.Int
	RawSubjectPublicKeyInfo []byte
	Signature               []byte
}

// signedPropertiesTemplate's leading spaces are significant: they are
// hashed as part of H2 (spec.md section 4.D step 5). Do not gofmt, trim,
// or otherwise "clean up" this literal.
const signedPropertiesTemplate = `<xades:SignedProperties xmlns:xades="http://uri.etsi.org/01903/v1.3.2#" Id="xadesSignedProperties">
                                    <xades:SignedSignatureProperties>
                                        <xades:SigningTime>{ts}</xades:SigningTime>
                                        <xades:SigningCertificate>
                                            <xades:Cert>
                                                <xades:CertDigest>
                                                    <ds:DigestMethod xmlns:ds="http://www.w3.org/2000/09/xmldsig#" Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/>
                                                    <ds:DigestValue xmlns:ds="http://www.w3.org/2000/09/xmldsig#">{H1}</ds:DigestValue>
                                                </xades:CertDigest>
                                                <xades:IssuerSerial>
                                                    <ds:X509IssuerName xmlns:ds="http://www.w3.org/2000/09/xmldsig#">{issuer}</ds:X509IssuerName>
                                                    <ds:X509SerialNumber xmlns:ds="http://www.w3.org/2000/09/xmldsig#">{serial}</ds:X509SerialNumber>
                                                </xades:IssuerSerial>
                                            </xades:Cert>
                                        </xades:SigningCertificate>
                                    </xades:SignedSignatureProperties>
                                </xades:SignedProperties>`

// Input carries everything Sign needs for one simplified invoice.
type Input struct {
	CanonicalXML   []byte // output of canon.Canonicalize
	Base64Hash     string // invoiceHash from canon.Canonicalize
	PrivateKey     *btcec.PrivateKey
	CertBase64Body string // base64 DER certificate content, PEM headers/footers already stripped
	Templates      *resources.Loaded
}

// Result is what Sign produces: the canonical XML with the signature
// block and QR wrapper spliced in, and the QR payload itself.
type Result struct {
	SplicedXML []byte
	QRBase64   string
}

// Sign applies spec.md section 4.D's eleven steps to a simplified
// invoice. Callers must not call Sign for a standard invoice: that
// payload carries no signature block at all (invoice.IsSimplified guards
// the call site in invoicerequest.Build).
func Sign(in Input) (*Result, error) {
	timestamp := time.Now().In(invoice.Riyadh).Format("2006-01-02T15:04:05")

	cert, err := rehydrateCertificate(in.CertBase64Body)
	if err != nil {
		return nil, err
	}

	h1 := doubleEncodedHash(in.CertBase64Body)
	issuer := renderIssuerName(cert.Issuer)
	serial := cert.SerialNumber.String()

	fragment := strings.NewReplacer(
		"{ts}", timestamp,
		"{H1}", h1,
		"{issuer}", issuer,
		"{serial}", serial,
	).Replace(signedPropertiesTemplate)
	fragment = strings.TrimSpace(strings.ReplaceAll(fragment, "\r\n", "\n"))
	h2 := doubleEncodedHash(fragment)

	sig, err := signInvoiceDigest(in.PrivateKey, in.Base64Hash)
	if err != nil {
		return nil, err
	}

	signatureBlock := strings.NewReplacer(
		"INVOICE_HASH", in.Base64Hash,
		"SIGNED_PROPERTIES", h2,
		"SIGNATURE_VALUE", sig,
		"CERTIFICATE_CONTENT", in.CertBase64Body,
		"SIGNATURE_TIMESTAMP", timestamp,
		"PUBLICKEY_HASHING", h1,
		"ISSUER_NAME", issuer,
		"SERIAL_NUMBER", serial,
	).Replace(in.Templates.UBLSignatureTemplate)

	canonicalDoc := etree.NewDocument()
	if err := canonicalDoc.ReadFromBytes(in.CanonicalXML); err != nil {
		return nil, zatcaerr.XMLWrap(err, "reparsing canonical XML for QR extraction")
	}
	qrPayload, err := qr.Build(canonicalDoc, qr.Signing{
		InvoiceHash:           in.Base64Hash,
		SignatureValue:        sig,
		PublicKeyDER:          cert.RawSubjectPublicKeyInfo,
		CertificateSignature:  cert.Signature,
	})
	if err != nil {
		return nil, err
	}

	qrWrapper := strings.ReplaceAll(in.Templates.QRWrapperTemplate, "QR_CONTENT", qrPayload)

	spliced, err := splice(in.CanonicalXML, signatureBlock, qrWrapper)
	if err != nil {
		return nil, err
	}

	return &Result{SplicedXML: spliced, QRBase64: qrPayload}, nil
}

// splice inserts signatureBlock immediately after the canonical XML's
// root open tag, and qrWrapper immediately before the first
// AccountingSupplierParty element — by byte position, not by rebuilding
// the tree (see the package doc comment for why).
func splice(canonicalXML []byte, signatureBlock, qrWrapper string) ([]byte, error) {
	xml := string(canonicalXML)

	rootEnd := strings.IndexByte(xml, '>')
	if rootEnd < 0 {
		return nil, zatcaerr.XML("canonical XML has no root open tag to splice after")
	}
	withSignature := xml[:rootEnd+1] + signatureBlock + xml[rootEnd+1:]

	anchor := "<cac:AccountingSupplierParty>"
	anchorPos := strings.Index(withSignature, anchor)
	if anchorPos < 0 {
		return nil, zatcaerr.XML("canonical XML missing cac:AccountingSupplierParty anchor for signature splice")
	}

	final := withSignature[:anchorPos] + qrWrapper + withSignature[anchorPos:]
	return []byte(final), nil
}

// rehydrateCertificate decodes base64Body (ZATCA returns certificate
// content with PEM headers and line wrapping already stripped, so the
// string is already the certificate's raw DER, base64-encoded) and
// extracts the fields xades needs by hand-walking the ASN.1, rather than
// through crypto/x509.ParseCertificate (see the certificate type's doc
// comment for why).
func rehydrateCertificate(base64Body string) (*parsedCertificate, error) {
	der, err := base64.StdEncoding.DecodeString(base64Body)
	if err != nil {
		return nil, zatcaerr.CryptoWrap(err, "decoding certificate body")
	}

	var cert certificate
	if _, err := asn1.Unmarshal(der, &cert); err != nil {
		return nil, zatcaerr.CryptoWrap(err, "parsing certificate structure")
	}

	var tbs tbsCertificate
	if _, err := asn1.Unmarshal(cert.TBSCertificate.FullBytes, &tbs); err != nil {
		return nil, zatcaerr.CryptoWrap(err, "parsing TBSCertificate")
	}

	var rdnSeq pkix.RDNSequence
	if _, err := asn1.Unmarshal(tbs.Issuer.FullBytes, &rdnSeq); err != nil {
		return nil, zatcaerr.CryptoWrap(err, "parsing certificate issuer")
	}
	var issuer pkix.Name
	issuer.FillFromRDNSequence(&rdnSeq)

	return &parsedCertificate{
		Issuer:                  issuer,
		SerialNumber:            tbs.SerialNumber,
		RawSubjectPublicKeyInfo: tbs.PublicKey.FullBytes,
		Signature:               cert.SignatureValue.RightAlign(),
	}, nil
}

// doubleEncodedHash computes base64(hex(SHA-256(s))) — the unusual
// double-encoding ZATCA's reference verifier expects for both the
// certificate digest (H1) and the SignedProperties digest (H2). Do not
// simplify this to base64(SHA-256(s)).
func doubleEncodedHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(sum[:])))
}

// renderIssuerName renders "CN={cn}, DC={dc_n}, ..., DC={dc_1}": the
// Common Name first, then Domain Components in reverse order of
// appearance in the certificate's issuer RDN sequence. issuer.Names
// preserves that original RDN order; issuer.ExtraNames would not.
func renderIssuerName(issuer pkix.Name) string {
	var cn string
	var dcs []string
	for _, atv := range issuer.Names {
		switch {
		case atv.Type.Equal(oidCommonName):
			cn = fmt.Sprint(atv.Value)
		case atv.Type.Equal(oidDomainComponent):
			dcs = append(dcs, fmt.Sprint(atv.Value))
		}
	}

	parts := []string{"CN=" + cn}
	for i := len(dcs) - 1; i >= 0; i-- {
		parts = append(parts, "DC="+dcs[i])
	}
	return strings.Join(parts, ", ")
}

// signInvoiceDigest decodes base64Hash back to the raw 32-byte canonical
// digest, then signs it with ECDSA-SHA256: the digest is itself hashed a
// second time and the signature covers that second hash. This matches
// ZATCA's own reference behavior for "ECDSA_SHA256(privateKey,
// raw_bytes(...))" — a hash-then-sign operation applied to an input that
// already happens to be a hash, not a single SHA-256 pass.
func signInvoiceDigest(priv *btcec.PrivateKey, base64Hash string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Hash)
	if err != nil {
		return "", zatcaerr.CryptoWrap(err, "decoding canonical invoice hash")
	}
	digest := sha256.Sum256(raw)

	sigDER, err := ecdsa.SignASN1(rand.Reader, priv.ToECDSA(), digest[:])
	if err != nil {
		return "", zatcaerr.CryptoWrap(err, "signing invoice digest")
	}
	return base64.StdEncoding.EncodeToString(sigDER), nil
}
