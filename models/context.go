package models

// Repository identifies a hosted git repository.
type Repository struct {
	Host          string `json:"host"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	CloneURL      string `json:"clone_url"`
	RepoURL       string `json:"repo_url"`
	DefaultBranch string `json:"default_branch"`
}

// CommitContext pins a workspace to an exact commit of a repository. It is
// the unit the context parsers produce and the workspace factory consumes.
type CommitContext struct {
	Repository           Repository `json:"repository"`
	Ref                  string     `json:"ref"`
	Revision             string     `json:"revision"`
	NormalizedContextURL string     `json:"normalized_context_url"`
}

// CommitInfo is one entry of a branch's recent history, used by the
// incremental prebuild passlist.
type CommitInfo struct {
	SHA         string `json:"sha"`
	AuthorEmail string `json:"author_email,omitempty"`
}

// CheckRunInfo carries what a provider check-run registration needs. Issue
// holds the pull request number when the event came from a pull request;
// AddComment and AddLabel reflect the repository's prebuild settings for
// that pull request.
type CheckRunInfo struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	HeadSHA    string `json:"head_sha"`
	DetailsURL string `json:"details_url"`
	Issue      *int   `json:"issue,omitempty"`
	AddComment bool   `json:"add_comment,omitempty"`
	AddLabel   bool   `json:"add_label,omitempty"`
}

type CommitState string

const (
	CommitStatePending CommitState = "pending"
	CommitStateSuccess CommitState = "success"
	CommitStateError   CommitState = "error"
	CommitStateFailure CommitState = "failure"
)

// CommitStatus is the payload written back to a provider's commit status
// API.
type CommitStatus struct {
	State       CommitState `json:"state"`
	Description string      `json:"description"`
	TargetURL   string      `json:"target_url"`
	Context     string      `json:"context"`
}
