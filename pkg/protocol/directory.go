package protocol

import (
	"context"

	"github.com/dukex/mediaflow/pkg/security"
)

// OrganizationDirectory knows which organizations exist.
type OrganizationDirectory interface {
	OrganizationExists(ctx context.Context, id string) bool
}

// UserDirectory loads the user a job was created by.
type UserDirectory interface {
	LoadUser(ctx context.Context, organization, username string) (security.User, error)
}

// SeriesACLProvider returns the access control list a media package inherits from its series.
type SeriesACLProvider interface {
	SeriesACL(ctx context.Context, organization, seriesID string) (security.AccessControlList, error)
}

// Workspace holds temporary artifacts of media packages.
type Workspace interface {
	CleanupMediaPackage(ctx context.Context, mediaPackageID string) error
}
