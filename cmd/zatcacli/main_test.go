package main

import (
	"bytes"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// sec1DERForTest encodes a minimal RFC 5915 ECPrivateKey DER blob
// carrying only version and privateKey — crypto/x509.MarshalECPrivateKey
// can't produce this for a secp256k1 key (its curve table covers only
// the NIST curves), so the test builds the same shape by hand.
func sec1DERForTest(t *testing.T, priv *btcec.PrivateKey) []byte {
	t.Helper()
	versionBytes, err := asn1.Marshal(1)
	require.NoError(t, err)
	privKeyBytes, err := asn1.Marshal(priv.Serialize())
	require.NoError(t, err)

	der, err := asn1.Marshal(asn1.RawValue{
		Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true,
		Bytes: append(append([]byte{}, versionBytes...), privKeyBytes...),
	})
	require.NoError(t, err)
	return der
}

func TestParsePrivateKey_RoundTripsStrippedPEM(t *testing.T) {
	orig, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	der := sec1DERForTest(t, orig)
	stripped := base64.StdEncoding.EncodeToString(der)

	recovered, err := parsePrivateKey(stripped)
	require.NoError(t, err)
	require.Equal(t, orig.Serialize(), recovered.Serialize())
}

func TestParsePrivateKey_RejectsGarbage(t *testing.T) {
	_, err := parsePrivateKey("not-valid-base64-der!!")
	require.Error(t, err)
}

func TestHasField_RequiresNonEmptyString(t *testing.T) {
	probe := map[string]json.RawMessage{
		"otp":    json.RawMessage(`""`),
		"vat":    json.RawMessage(`"399999999900003"`),
		"number": json.RawMessage(`5`),
	}
	require.False(t, hasField(probe, "otp"))
	require.True(t, hasField(probe, "vat"))
	require.False(t, hasField(probe, "number"))
	require.False(t, hasField(probe, "missing"))
}

func TestRun_UnrecognizedShapeReturnsFatalEnvelope(t *testing.T) {
	t.Setenv("ZATCA_AUDIT_DB_PATH", t.TempDir()+"/audit.db")
	in := strings.NewReader(`{"env":"NonProduction","unexpected":"shape"}`)
	var out, errOut bytes.Buffer

	code := run(in, &out, &errOut)
	require.Equal(t, 1, code)

	var envelope map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &envelope))
	require.Contains(t, envelope["error"], "no known request shape")
}

func TestRun_MalformedJSONReturnsFatalEnvelope(t *testing.T) {
	in := strings.NewReader(`not json at all`)
	var out, errOut bytes.Buffer

	code := run(in, &out, &errOut)
	require.Equal(t, 1, code)

	var envelope map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &envelope))
	require.NotEmpty(t, envelope["error"])
}
