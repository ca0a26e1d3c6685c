package platform

import (
	"github.com/shurcooL/githubv4"

	"github.com/ciqueue/runner/contracts"
)

// pullRequestsQuery mirrors the original system's single bulk GraphQL query
// for "every open PR plus its head commit's statuses and labels" — one
// round-trip instead of one REST call per PR.
type pullRequestsQuery struct {
	Repository struct {
		PullRequests struct {
			Nodes []struct {
				Number    githubv4.Int
				Author    struct{ Login githubv4.String }
				BaseRefName githubv4.String
				Mergeable githubv4.MergeableState
				Labels    struct {
					Nodes []struct{ Name githubv4.String }
				} `graphql:"labels(first: 20)"`
				Commits struct {
					Nodes []struct {
						Commit struct {
							Oid      githubv4.String
							Status   struct {
								Contexts []struct {
									Context     githubv4.String
									State       githubv4.StatusState
									Description githubv4.String
									TargetURL   githubv4.String
								}
							}
						}
					}
				} `graphql:"commits(last: 1)"`
			}
		} `graphql:"pullRequests(states: OPEN, first: 100)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

func (q *pullRequestsQuery) toPullRequests() []contracts.PullRequest {
	nodes := q.Repository.PullRequests.Nodes
	out := make([]contracts.PullRequest, 0, len(nodes))

	for _, n := range nodes {
		labels := make(map[contracts.Label]bool, len(n.Labels.Nodes))
		for _, l := range n.Labels.Nodes {
			if label, ok := contracts.LabelFromString(string(l.Name)); ok {
				labels[label] = true
			}
		}

		mergeable := contracts.MergeableUnknown
		switch n.Mergeable {
		case githubv4.MergeableStateMergeable:
			mergeable = contracts.MergeableYes
		case githubv4.MergeableStateConflicting:
			mergeable = contracts.MergeableNo
		}

		pr := contracts.PullRequest{
			Number:    contracts.PRNumber(n.Number),
			Author:    string(n.Author.Login),
			BaseRef:   string(n.BaseRefName),
			Mergeable: mergeable,
			Labels:    labels,
		}

		if len(n.Commits.Nodes) > 0 {
			head := n.Commits.Nodes[len(n.Commits.Nodes)-1].Commit
			statuses := make(map[contracts.Context]contracts.Status, len(head.Status.Contexts))
			for _, c := range head.Status.Contexts {
				state, _ := contracts.StateFromString(string(c.State))
				statuses[contracts.Context(c.Context)] = contracts.Status{
					Context:     contracts.Context(c.Context),
					State:       state,
					Description: string(c.Description),
					TargetURL:   string(c.TargetURL),
				}
			}
			pr.Head = contracts.Commit{SHA: contracts.SHA(head.Oid), Statuses: statuses}
		}

		out = append(out, pr)
	}
	return out
}
