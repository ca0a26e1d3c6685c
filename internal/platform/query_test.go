package platform

import (
	"testing"

	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/require"

	"github.com/ciqueue/runner/contracts"
)

func TestPullRequestsQuery_ToPullRequests(t *testing.T) {
	var q pullRequestsQuery
	q.Repository.PullRequests.Nodes = make([]struct {
		Number      githubv4.Int
		Author      struct{ Login githubv4.String }
		BaseRefName githubv4.String
		Mergeable   githubv4.MergeableState
		Labels      struct {
			Nodes []struct{ Name githubv4.String }
		} `graphql:"labels(first: 20)"`
		Commits struct {
			Nodes []struct {
				Commit struct {
					Oid    githubv4.String
					Status struct {
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
	}, 1)

	node := &q.Repository.PullRequests.Nodes[0]
	node.Number = 42
	node.Author.Login = "trusted-dev"
	node.BaseRefName = "main"
	node.Mergeable = githubv4.MergeableStateMergeable
	node.Labels.Nodes = append(node.Labels.Nodes, struct{ Name githubv4.String }{Name: "prioritize"})
	node.Commits.Nodes = append(node.Commits.Nodes, struct {
		Commit struct {
			Oid    githubv4.String
			Status struct {
				Contexts []struct {
					Context     githubv4.String
					State       githubv4.StatusState
					Description githubv4.String
					TargetURL   githubv4.String
				}
			}
		}
	}{})
	node.Commits.Nodes[0].Commit.Oid = "sha123"
	node.Commits.Nodes[0].Commit.Status.Contexts = append(node.Commits.Nodes[0].Commit.Status.Contexts, struct {
		Context     githubv4.String
		State       githubv4.StatusState
		Description githubv4.String
		TargetURL   githubv4.String
	}{Context: "fedora/build", State: githubv4.StatusStatePending, Description: "unassigned"})

	prs := q.toPullRequests()
	require.Len(t, prs, 1)
	pr := prs[0]
	require.Equal(t, contracts.PRNumber(42), pr.Number)
	require.Equal(t, "trusted-dev", pr.Author)
	require.Equal(t, contracts.MergeableYes, pr.Mergeable)
	require.True(t, pr.HasLabel(contracts.LabelPrioritize), "expected prioritize label mapped, got %+v", pr.Labels)
	require.Equal(t, contracts.SHA("sha123"), pr.Head.SHA)
	st, ok := pr.Head.Statuses["fedora/build"]
	require.True(t, ok)
	require.True(t, st.Claimable(), "expected claimable fedora/build status, got %+v", st)
}
