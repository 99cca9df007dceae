// Package testcert hand-builds minimal secp256k1-keyed, self-signed
// X.509 certificates for use as test fixtures. crypto/x509 can neither
// produce nor parse a secp256k1 certificate (its curve table covers only
// the four NIST curves), so any fixture meant to exercise a real
// ZATCA-shaped certificate has to be assembled by hand, the same ASN.1
// technique csr.Build uses for the CSR itself.
package testcert

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

var (
	oidECPublicKey     = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1       = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
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

type validity struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// SelfSigned builds a self-signed certificate DER with subject and
// issuer both set to subject (self-signed), carrying the given serial
// number and a freshly generated secp256k1 key pair. It returns the raw
// DER bytes and the signing key, the same shape rehydrateCertificate
// expects ZATCA's binarySecurityToken body to decode to.
func SelfSigned(subject pkix.Name, serial *big.Int) ([]byte, *btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, err
	}

	rdnSeq, err := asn1.Marshal(subject.ToRDNSequence())
	if err != nil {
		return nil, nil, err
	}

	pubKeyBytes := priv.PubKey().SerializeUncompressed()
	spkiBytes, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{oidECPublicKey, oidSecp256k1},
		PublicKey: asn1.BitString{Bytes: pubKeyBytes, BitLength: len(pubKeyBytes) * 8},
	})
	if err != nil {
		return nil, nil, err
	}

	sigAlgBytes, err := asn1.Marshal(algorithmIdentifierNoParams{oidECDSAWithSHA256})
	if err != nil {
		return nil, nil, err
	}

	validityBytes, err := asn1.Marshal(validity{
		NotBefore: time.Now().Add(-time.Hour).UTC(),
		NotAfter:  time.Now().Add(24 * time.Hour).UTC(),
	})
	if err != nil {
		return nil, nil, err
	}

	versionInt, err := asn1.Marshal(2) // v3
	if err != nil {
		return nil, nil, err
	}
	versionBytes, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: versionInt})
	if err != nil {
		return nil, nil, err
	}

	serialBytes, err := asn1.Marshal(serial)
	if err != nil {
		return nil, nil, err
	}

	var tbsContent []byte
	tbsContent = append(tbsContent, versionBytes...)
	tbsContent = append(tbsContent, serialBytes...)
	tbsContent = append(tbsContent, sigAlgBytes...)
	tbsContent = append(tbsContent, rdnSeq...) // issuer == subject: self-signed
	tbsContent = append(tbsContent, validityBytes...)
	tbsContent = append(tbsContent, rdnSeq...) // subject
	tbsContent = append(tbsContent, spkiBytes...)

	tbsBytes, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: tbsContent})
	if err != nil {
		return nil, nil, err
	}

	hash := sha256.Sum256(tbsBytes)
	sig, err := ecdsa.SignASN1(rand.Reader, priv.ToECDSA(), hash[:])
	if err != nil {
		return nil, nil, err
	}
	sigBitString, err := asn1.Marshal(asn1.BitString{Bytes: sig, BitLength: len(sig) * 8})
	if err != nil {
		return nil, nil, err
	}

	var certContent []byte
	certContent = append(certContent, tbsBytes...)
	certContent = append(certContent, sigAlgBytes...)
	certContent = append(certContent, sigBitString...)

	der, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: certContent})
	if err != nil {
		return nil, nil, err
	}
	return der, priv, nil
}
