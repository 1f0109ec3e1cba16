package models

import "time"

// ForkReference caches the result of a fork lookup for (repository, fork owner).
// Found=false records that the user has no fork, so misses are cached too.
type ForkReference struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Repository    string    `gorm:"size:200;not null;uniqueIndex:idx_fork_repo_owner" json:"repository"`
	ForkOwner     string    `gorm:"size:100;not null;uniqueIndex:idx_fork_repo_owner" json:"fork_owner"`
	ForkName      string    `gorm:"size:200" json:"fork_name"`
	DefaultBranch string    `gorm:"size:200" json:"default_branch"`
	Found         bool      `gorm:"default:false" json:"found"`
	ExpiresAt     time.Time `gorm:"index" json:"expires_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ForkReference) TableName() string { return "fork_references" }

func (f *ForkReference) Ref() ForkRef {
	if !f.Found {
		return ForkRef{}
	}
	return ForkRef{Owner: f.ForkOwner, Name: f.ForkName, DefaultBranch: f.DefaultBranch}
}
