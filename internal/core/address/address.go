// Package address maps domain resource identifiers onto deterministic
// ledger state addresses.
//
// An address is 70 hex characters: a 6-character family prefix shared by
// every record the gateway manages, a 2-character resource-type infix,
// and a 62-character hash of the resource identifier. The infix makes
// NamespaceOf an exact inverse projection of Derive: classification of a
// changed address never needs the original identifier.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/trustmesh/gateway/internal/core/domain"
)

const (
	// FamilyName seeds the family prefix. Changing it re-homes every
	// address, so it is fixed for the life of the deployment.
	FamilyName = "cert_registry"

	prefixLen = 6
	infixLen  = 2
	hashLen   = 62

	// AddressLength is the total hex length of a derived address.
	AddressLength = prefixLen + infixLen + hashLen
)

var familyPrefix = func() string {
	sum := sha256.Sum256([]byte(FamilyName))
	return hex.EncodeToString(sum[:])[:prefixLen]
}()

var typeInfix = map[domain.ResourceType]string{
	domain.ResourceAgent:        "00",
	domain.ResourceCertificate:  "01",
	domain.ResourceOrganization: "02",
	domain.ResourceStandard:     "03",
	domain.ResourceRequest:      "04",
	domain.ResourceAssertion:    "05",
}

var infixType = func() map[string]domain.ResourceType {
	m := make(map[string]domain.ResourceType, len(typeInfix))
	for rt, infix := range typeInfix {
		m[infix] = rt
	}
	return m
}()

// FamilyPrefix returns the 6-character namespace prefix shared by all
// addresses derived in this family.
func FamilyPrefix() string {
	return familyPrefix
}

// Derive maps a (resource type, resource id) pair onto its state address.
// Pure and deterministic: the same pair always yields the same address,
// and distinct pairs do not collide within the family.
func Derive(rt domain.ResourceType, resourceID string) (domain.Address, error) {
	infix, ok := typeInfix[rt]
	if !ok {
		return "", fmt.Errorf("unknown resource type %q", rt)
	}
	if resourceID == "" {
		return "", fmt.Errorf("empty resource id for type %q", rt)
	}
	sum := sha256.Sum256([]byte(resourceID))
	return domain.Address(familyPrefix + infix + hex.EncodeToString(sum[:])[:hashLen]), nil
}

// NamespaceOf classifies an address back to the resource type it was
// derived for. It is the exact inverse projection of Derive for every
// address the family can produce.
func NamespaceOf(addr domain.Address) (domain.ResourceType, error) {
	s := string(addr)
	if len(s) != AddressLength {
		return "", fmt.Errorf("address %q: want %d hex chars, got %d", addr, AddressLength, len(s))
	}
	if !strings.HasPrefix(s, familyPrefix) {
		return "", fmt.Errorf("address %q outside family %s", addr, familyPrefix)
	}
	rt, ok := infixType[s[prefixLen:prefixLen+infixLen]]
	if !ok {
		return "", fmt.Errorf("address %q: unknown resource infix %q", addr, s[prefixLen:prefixLen+infixLen])
	}
	return rt, nil
}

// InFamily reports whether an address belongs to this family's namespace
// without requiring it to classify cleanly.
func InFamily(addr domain.Address) bool {
	return strings.HasPrefix(string(addr), familyPrefix)
}
