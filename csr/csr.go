// Package csr builds the taxpayer-bound secp256k1 key pair and the
// ZATCA-flavored PKCS#10 certificate signing request: a subject DN in a
// fixed attribute order, the ZATCA template extension (a DER UTF8String
// under a Microsoft-reserved OID ZATCA repurposes), and a SAN carrying a
// single directoryName RDN sequence of taxpayer attributes.
//
// The whole CertificationRequest is built and signed by hand rather than
// through crypto/x509.CreateCertificateRequest: that function's
// signingParamsForPublicKey step recognizes only the four NIST curves
// and returns "x509: unknown elliptic curve" for any public key on
// another curve, and ZATCA mandates secp256k1. The ASN.1 construction
// mirrors the raw-extension-byte technique used by certificate-authority
// tooling for custom policy extensions: build each inner TLV with
// encoding/asn1, then splice it into the surrounding structure by hand.
package csr

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/zatca-go/fatoora-client/models"
	"github.com/zatca-go/fatoora-client/zatcaerr"
)

// secp256k1 and CSR-specific OIDs the stdlib's x509 package has no
// constants for: it only ever emits the NIST curve OIDs.
var (
	oidECPublicKey      = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1Curve   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
	oidECDSAWithSHA256  = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidExtensionRequest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}
)

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type algorithmIdentifierNoParams struct {
	Algorithm asn1.ObjectIdentifier
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

type csrAttribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue
}

// zatcaTemplateOID is the Microsoft-reserved "certificate template name"
// extension OID that ZATCA repurposes to carry its onboarding template
// string ("TSTZATCA-Code-Signing" and friends).
var zatcaTemplateOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 20, 2}

var subjectAltNameOID = asn1.ObjectIdentifier{2, 5, 29, 17}

// SAN directoryName attribute OIDs, in the order ZATCA's reference
// verifier expects them.
var (
	oidSerialNumber           = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidOrganizationIdentifier = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
	oidInvoiceType            = asn1.ObjectIdentifier{2, 5, 4, 12}
	oidLocationAddress        = asn1.ObjectIdentifier{2, 5, 4, 26}
	oidBusinessCategory       = asn1.ObjectIdentifier{2, 5, 4, 15}
)

// Subject DN attribute OIDs, used to emit C, OU, O, CN in that exact
// order via pkix.Name.ExtraNames (pkix.Name's own fields marshal in a
// fixed, different order that we must not rely on here).
var (
	oidCountry            = asn1.ObjectIdentifier{2, 5, 4, 6}
	oidOrganizationUnit   = asn1.ObjectIdentifier{2, 5, 4, 11}
	oidOrganization       = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidCommonName         = asn1.ObjectIdentifier{2, 5, 4, 3}
)

// Result is the output of Build: the raw ECDSA private key alongside its
// PEM-stripped textual form, and the CSR in the base64 PEM form ZATCA's
// onboarding endpoint expects.
type Result struct {
	PrivateKeyPEM string // header/footer stripped, newlines removed
	CSRBase64     string // base64 of the PEM-encoded CSR
	PrivateKey    *btcec.PrivateKey
}

// Build generates a fresh secp256k1 key pair and a CSR carrying cfg's
// fields and env's ZATCA template, per spec section 4.A.
func Build(cfg models.CsrConfig, env models.Environment) (*Result, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	template, err := env.CSRTemplate()
	if err != nil {
		return nil, zatcaerr.ConfigWrap(err, "invalid environment %q", env)
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, zatcaerr.CryptoWrap(err, "generating secp256k1 key")
	}

	country := cfg.CountryCode
	if country == "" {
		country = "SA"
	}

	subject := pkix.Name{
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: oidCountry, Value: country},
			{Type: oidOrganizationUnit, Value: cfg.OrganizationUnitName},
			{Type: oidOrganization, Value: cfg.OrganizationName},
			{Type: oidCommonName, Value: cfg.CommonName},
		},
	}

	templateExt, err := templateExtension(template)
	if err != nil {
		return nil, zatcaerr.CryptoWrap(err, "encoding ZATCA template extension")
	}
	sanExt, err := sanExtension(cfg)
	if err != nil {
		return nil, zatcaerr.CryptoWrap(err, "encoding SAN extension")
	}

	der, err := buildAndSignCSR(priv, subject, []pkix.Extension{templateExt, sanExt})
	if err != nil {
		return nil, zatcaerr.CryptoWrap(err, "signing CSR")
	}

	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})

	keyDER, err := marshalSEC1PrivateKey(priv)
	if err != nil {
		return nil, zatcaerr.CryptoWrap(err, "marshaling private key")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return &Result{
		PrivateKeyPEM: stripPEM(keyPEM),
		CSRBase64:     base64OfPEM(csrPEM),
		PrivateKey:    priv,
	}, nil
}

// buildAndSignCSR assembles a PKCS#10 CertificationRequest by hand and
// signs it with priv, returning the CSR's DER encoding. See the package
// doc comment for why this can't go through crypto/x509.
func buildAndSignCSR(priv *btcec.PrivateKey, subject pkix.Name, extensions []pkix.Extension) ([]byte, error) {
	rdnSeq, err := asn1.Marshal(subject.ToRDNSequence())
	if err != nil {
		return nil, err
	}

	pubKeyBytes := priv.PubKey().SerializeUncompressed()
	spkiBytes, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{oidECPublicKey, oidSecp256k1Curve},
		PublicKey: asn1.BitString{Bytes: pubKeyBytes, BitLength: len(pubKeyBytes) * 8},
	})
	if err != nil {
		return nil, err
	}

	attributesBytes, err := extensionRequestAttribute(extensions)
	if err != nil {
		return nil, err
	}

	versionBytes, err := asn1.Marshal(0)
	if err != nil {
		return nil, err
	}

	var criContent []byte
	criContent = append(criContent, versionBytes...)
	criContent = append(criContent, rdnSeq...)
	criContent = append(criContent, spkiBytes...)
	criContent = append(criContent, attributesBytes...)

	criBytes, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: criContent})
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(criBytes)
	sig, err := ecdsa.SignASN1(rand.Reader, priv.ToECDSA(), hash[:])
	if err != nil {
		return nil, err
	}

	sigAlgBytes, err := asn1.Marshal(algorithmIdentifierNoParams{oidECDSAWithSHA256})
	if err != nil {
		return nil, err
	}
	sigBitString, err := asn1.Marshal(asn1.BitString{Bytes: sig, BitLength: len(sig) * 8})
	if err != nil {
		return nil, err
	}

	var csrContent []byte
	csrContent = append(csrContent, criBytes...)
	csrContent = append(csrContent, sigAlgBytes...)
	csrContent = append(csrContent, sigBitString...)

	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: csrContent})
}

// marshalSEC1PrivateKey encodes priv as RFC 5915's ECPrivateKey ::=
// SEQUENCE { version INTEGER, privateKey OCTET STRING, parameters [0]
// EXPLICIT ECParameters OPTIONAL, publicKey [1] EXPLICIT BIT STRING
// OPTIONAL } by hand. crypto/x509.MarshalECPrivateKey resolves its
// parameters field through the same NIST-only oidFromNamedCurve table
// that rejects secp256k1 everywhere else in this package, so it can't be
// used here either.
func marshalSEC1PrivateKey(priv *btcec.PrivateKey) ([]byte, error) {
	versionBytes, err := asn1.Marshal(1)
	if err != nil {
		return nil, err
	}
	privKeyBytes, err := asn1.Marshal(priv.Serialize())
	if err != nil {
		return nil, err
	}

	curveOIDBytes, err := asn1.Marshal(oidSecp256k1Curve)
	if err != nil {
		return nil, err
	}
	parametersBytes, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: curveOIDBytes})
	if err != nil {
		return nil, err
	}

	pubKeyBytes := priv.PubKey().SerializeUncompressed()
	bitStringBytes, err := asn1.Marshal(asn1.BitString{Bytes: pubKeyBytes, BitLength: len(pubKeyBytes) * 8})
	if err != nil {
		return nil, err
	}
	publicKeyBytes, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: bitStringBytes})
	if err != nil {
		return nil, err
	}

	var content []byte
	content = append(content, versionBytes...)
	content = append(content, privKeyBytes...)
	content = append(content, parametersBytes...)
	content = append(content, publicKeyBytes...)

	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: content})
}

// extensionRequestAttribute wraps extensions in the single
// pkcs-9-at-extensionRequest Attribute PKCS#10 uses to carry extensions,
// itself wrapped in the CertificationRequestInfo's [0] IMPLICIT
// attributes set (here holding exactly that one attribute).
func extensionRequestAttribute(extensions []pkix.Extension) ([]byte, error) {
	extSeq, err := asn1.Marshal(extensions)
	if err != nil {
		return nil, err
	}
	extSet, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: extSeq})
	if err != nil {
		return nil, err
	}
	attr, err := asn1.Marshal(csrAttribute{Type: oidExtensionRequest, Values: asn1.RawValue{FullBytes: extSet}})
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: attr})
}

func validate(cfg models.CsrConfig) error {
	required := map[string]string{
		"common name":             cfg.CommonName,
		"serial number":           cfg.SerialNumber,
		"organization identifier": cfg.OrganizationIdentifier,
		"organization unit name":  cfg.OrganizationUnitName,
		"organization name":       cfg.OrganizationName,
		"invoice type":            cfg.InvoiceType,
		"location address":        cfg.LocationAddress,
		"industry business category": cfg.IndustryBusinessCategory,
	}
	for field, value := range required {
		if value == "" {
			return zatcaerr.Config("missing required CSR field: %s", field)
		}
	}
	return nil
}

// templateExtension encodes the ZATCA template string as a DER UTF8String
// and wraps it in a non-critical extension. The UTF8String tag (0x0C) is
// what ZATCA's reference verifier requires; a naive []byte(template)
// written as the raw extension value (skipping the ASN.1 wrapper
// entirely) is a known defect in other implementations of this CSR.
func templateExtension(template string) (pkix.Extension, error) {
	raw := asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagUTF8String, Bytes: []byte(template)}
	value, err := asn1.Marshal(raw)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: zatcaTemplateOID, Critical: false, Value: value}, nil
}

// sanExtension builds a SubjectAlternativeName extension containing a
// single directoryName (GeneralName [4]) whose RDNSequence carries the
// taxpayer's serial number, VAT, invoice type, address, and business
// category, each as its own single-valued RDN, in that order.
func sanExtension(cfg models.CsrConfig) (pkix.Extension, error) {
	type attr struct {
		oid   asn1.ObjectIdentifier
		value string
	}
	attrs := []attr{
		{oidSerialNumber, cfg.SerialNumber},
		{oidOrganizationIdentifier, cfg.OrganizationIdentifier},
		{oidInvoiceType, cfg.InvoiceType},
		{oidLocationAddress, cfg.LocationAddress},
		{oidBusinessCategory, cfg.IndustryBusinessCategory},
	}

	var rdnSeqContent []byte
	for _, a := range attrs {
		rdnBytes, err := marshalSingleValuedRDN(a.oid, a.value)
		if err != nil {
			return pkix.Extension{}, err
		}
		rdnSeqContent = append(rdnSeqContent, rdnBytes...)
	}

	rdnSeq, err := asn1.Marshal(asn1.RawValue{
		Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: rdnSeqContent,
	})
	if err != nil {
		return pkix.Extension{}, err
	}

	// directoryName is GeneralName's [4] choice, EXPLICIT per X.509.
	directoryName, err := asn1.Marshal(asn1.RawValue{
		Class: asn1.ClassContextSpecific, Tag: 4, IsCompound: true, Bytes: rdnSeq,
	})
	if err != nil {
		return pkix.Extension{}, err
	}

	// GeneralNames ::= SEQUENCE OF GeneralName, here holding exactly one.
	generalNames, err := asn1.Marshal(asn1.RawValue{
		Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: directoryName,
	})
	if err != nil {
		return pkix.Extension{}, err
	}

	return pkix.Extension{Id: subjectAltNameOID, Critical: false, Value: generalNames}, nil
}

// marshalSingleValuedRDN encodes a RelativeDistinguishedName containing
// exactly one AttributeTypeAndValue, i.e. a SET OF size 1.
func marshalSingleValuedRDN(oid asn1.ObjectIdentifier, value string) ([]byte, error) {
	atv, err := asn1.Marshal(struct {
		Type  asn1.ObjectIdentifier
		Value string `asn1:"utf8"`
	}{oid, value})
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: atv})
}

// stripPEM returns the base64 body of a PEM block with the header,
// footer, and line wrapping removed — which is simply the unwrapped
// base64 encoding of the DER bytes inside it.
func stripPEM(pemBytes []byte) string {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(block.Bytes)
}

func base64OfPEM(pemBytes []byte) string {
	return base64.StdEncoding.EncodeToString(pemBytes)
}
