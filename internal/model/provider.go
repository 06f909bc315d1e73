package model

// ProviderKind selects the behavior variant of an App or Integration.
type ProviderKind string

const (
	ProviderGitHub    ProviderKind = "github"
	ProviderGitLab    ProviderKind = "gitlab"
	ProviderBitbucket ProviderKind = "bitbucket"
)

// ProviderKinds lists every supported provider, in mount order.
var ProviderKinds = []ProviderKind{ProviderGitHub, ProviderGitLab, ProviderBitbucket}

func (k ProviderKind) String() string {
	return string(k)
}

func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderGitHub, ProviderGitLab, ProviderBitbucket:
		return true
	}
	return false
}
