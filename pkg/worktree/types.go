// Package worktree implements the Worktree Manager: isolated per-story git
// working trees, one per story, with a durable on-disk registry.
package worktree

import (
	"regexp"
	"time"
)

// Status is the lifecycle status of a Worktree.
type Status string

const (
	StatusActive    Status = "active"
	StatusPRCreated Status = "pr-created"
	StatusMerged    Status = "merged"
)

// Worktree is a record of one isolated filesystem copy of a git working
// tree, created for a single story.
type Worktree struct {
	StoryID    string    `json:"storyId"`
	Path       string    `json:"path"`
	Branch     string    `json:"branch"`
	BaseBranch string    `json:"baseBranch"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

var storyIDPattern = regexp.MustCompile(`^[0-9]+-[0-9]+$`)

func validStoryID(id string) bool {
	return storyIDPattern.MatchString(id)
}

func branchName(storyID string) string {
	return "story/" + storyID
}
