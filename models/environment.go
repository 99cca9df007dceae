// Package models holds the value types shared across the onboarding and
// submission pipelines: the environment profile, CSR configuration,
// credential set, and the stdin/stdout request and response envelopes.
package models

import "fmt"

// Environment selects the ZATCA deployment a request targets.
type Environment string

const (
	NonProduction Environment = "NonProduction"
	Simulation    Environment = "Simulation"
	Production    Environment = "Production"
)

// csrTemplate is the ASN.1 UTF8String value embedded in the CSR's ZATCA
// template extension (OID 1.3.6.1.4.1.311.20.2).
func (e Environment) csrTemplate() (string, error) {
	switch e {
	case NonProduction:
		return "TSTZATCA-Code-Signing", nil
	case Simulation:
		return "PREZATCA-Code-Signing", nil
	case Production:
		return "ZATCA-Code-Signing", nil
	default:
		return "", fmt.Errorf("unrecognized environment %q", e)
	}
}

// CSRTemplate returns the ASN.1 UTF8String value for the CSR's ZATCA
// template extension, or an error if e is not a recognized environment.
func (e Environment) CSRTemplate() (string, error) {
	return e.csrTemplate()
}

// pathSegment is the base-URL path segment ZATCA assigns this environment.
func (e Environment) pathSegment() (string, error) {
	switch e {
	case NonProduction:
		return "developer-portal", nil
	case Simulation:
		return "simulation", nil
	case Production:
		return "core", nil
	default:
		return "", fmt.Errorf("unrecognized environment %q", e)
	}
}

// PathSegment returns the base-URL path segment for e.
func (e Environment) PathSegment() (string, error) {
	return e.pathSegment()
}

// Valid reports whether e is one of the three recognized environments.
func (e Environment) Valid() bool {
	_, err := e.pathSegment()
	return err == nil
}
