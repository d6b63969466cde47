package domain

// Security protocols a provider endpoint may advertise.
const (
	ProtocolSSL    = "ssl"
	ProtocolNonSSL = "non-ssl"
)

// Provider represents a cloud management endpoint (ext_management_system)
type Provider struct {
	ID               int64  // Unique identifier
	Name             string // Provider name
	Hostname         string // Control-plane identity host
	Port             int    // Control-plane identity port
	SecurityProtocol string // "ssl" or "non-ssl"
	APIVersion       string // Identity API version path segment (e.g., "v3", "v2.0")
	Region           string // Optional region for endpoint lookup
	DomainName       string // Identity domain (v3 only)
	UserID           string // Authentication user
	Password         string // Authentication password
}

// CloudTenant represents an isolation scope within a provider
type CloudTenant struct {
	ID          int64  // Unique identifier
	Name        string // Tenant (project) name
	ProviderID  int64  // Owning provider
	ExternalRef string // Control-plane project id
}

// CloudNetwork represents a network known to a provider
type CloudNetwork struct {
	ID          int64  // Unique identifier
	Name        string // Network name (not unique)
	ProviderID  int64  // Owning provider
	External    bool   // Externally routable (usable as a floating IP pool)
	ExternalRef string // Control-plane network id
}

// CloudSubnet represents a subnet of a cloud network
type CloudSubnet struct {
	ID          int64  // Unique identifier
	Name        string // Subnet name
	CIDR        string // Subnet in CIDR notation
	NetworkID   int64  // Owning network
	ExternalRef string // Control-plane subnet id
}

// FloatingAssociation is the VM's cached view of its bound floating address.
// The control plane is authoritative; this cache is best-effort and may be
// stale or empty.
type FloatingAssociation struct {
	Address string // Bound floating address
	ID      string // Control-plane floating IP id
}

// IsZero reports whether nothing is cached.
func (f FloatingAssociation) IsZero() bool {
	return f.Address == "" && f.ID == ""
}

// VirtualMachine represents a compute instance managed by a provider
type VirtualMachine struct {
	ID          int64               // Unique identifier
	Name        string              // Instance name (not unique)
	ProviderID  int64               // Owning provider
	TenantID    *int64              // Owning tenant (optional)
	ExternalRef string              // Control-plane instance id
	Floating    FloatingAssociation // Cached floating association
}

// FloatingIPStatus is the control-plane status of a floating address
type FloatingIPStatus string

const (
	FloatingIPDown   FloatingIPStatus = "DOWN"
	FloatingIPActive FloatingIPStatus = "ACTIVE"
	FloatingIPError  FloatingIPStatus = "ERROR"
)

// FloatingIP represents the record-store reflection of a floating address
type FloatingIP struct {
	ID             int64            // Unique identifier
	Address        string           // Floating address
	NetworkID      int64            // Owning (external) network
	TenantID       int64            // Owning tenant
	FixedIPAddress string           // Bound fixed address, if any
	VMID           *int64           // Bound VM, if any
	Status         FloatingIPStatus // Control-plane status
	ExternalRef    string           // Control-plane floating IP id
}

// AddressState is the lifecycle of a floating address across
// allocate, associate and retire.
type AddressState string

const (
	StateUnallocated AddressState = "Unallocated"
	StateAllocating  AddressState = "Allocating"
	StatePending     AddressState = "Pending"
	StateBound       AddressState = "Bound"
	StateReleasing   AddressState = "Releasing"
	StateReleased    AddressState = "Released"
)

// Allocation is a floating address accepted by the control plane.
type Allocation struct {
	Address     string `json:"address"`
	ExternalRef string `json:"id"`
}
