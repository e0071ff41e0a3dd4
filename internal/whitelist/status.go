package whitelist

import (
	"time"
)

// DStatus is the discovery state of a repository.
type DStatus string

const (
	DiscoveryNotAProxy    DStatus = "NOT_A_PROXY"
	DiscoveryDisabled     DStatus = "DISABLED"
	DiscoveryEnabled      DStatus = "ENABLED"
	DiscoverySuccessful   DStatus = "SUCCESSFUL"
	DiscoveryUnsuccessful DStatus = "UNSUCCESSFUL"
	DiscoveryError        DStatus = "ERROR"
)

// IsEnabled reports whether discovery runs for the repository at all.
func (s DStatus) IsEnabled() bool {
	switch s {
	case DiscoveryEnabled, DiscoverySuccessful, DiscoveryUnsuccessful, DiscoveryError:
		return true
	}
	return false
}

// PStatus is the publishing state of a repository whitelist.
type PStatus string

const (
	Published    PStatus = "PUBLISHED"
	NotPublished PStatus = "NOT_PUBLISHED"
)

type DiscoveryStatus struct {
	Status        DStatus   `json:"status" toml:"status"`
	StrategyID    string    `json:"strategyId,omitempty" toml:"strategyId"`
	Message       string    `json:"message,omitempty" toml:"message"`
	LastDiscovery time.Time `json:"lastDiscovery,omitzero" toml:"lastDiscovery"`
}

type PublishingStatus struct {
	Status       PStatus   `json:"status"`
	Message      string    `json:"message"`
	LastModified time.Time `json:"lastModified,omitzero"`
	FilePath     string    `json:"filePath,omitempty"`
}

// Status is the combined publishing and discovery view of one repository.
type Status struct {
	RepositoryID string           `json:"repositoryId"`
	Publishing   PublishingStatus `json:"publishing"`
	Discovery    DiscoveryStatus  `json:"discovery"`
}

// DiscoveryConfig is the remote discovery setting of a proxy repository.
type DiscoveryConfig struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
}

const (
	msgPublished           = "Whitelist published successfully."
	msgGroupNotPublished   = "Publishing not possible, as not all members have whitelist published."
	msgProxyNotPublished   = "Unable to discover remote content."
	msgProxyNotDiscovering = "Remote discovery not enabled."
	msgHostedNotPublished  = "Check logs for more details."
	msgUnsupportedKind     = "Unsupported repository type (only hosted, proxy and groups are supported)."
	msgUnsupportedFormat   = "Unsupported repository format (only Maven2 format is supported)."
)
