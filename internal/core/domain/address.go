package domain

// Address is a hex-encoded ledger state address.
type Address string

// ResourceType identifies a namespace of the ledger address space.
type ResourceType string

const (
	ResourceAgent        ResourceType = "agent"
	ResourceCertificate  ResourceType = "certificate"
	ResourceOrganization ResourceType = "organization"
	ResourceStandard     ResourceType = "standard"
	ResourceRequest      ResourceType = "request"
	ResourceAssertion    ResourceType = "assertion"
)
