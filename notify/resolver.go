package notify

import (
	"context"
	"strings"

	"github.com/warp/insurance-tracker/insurance"
)

// RecipientSource lists recipients scoped to an asset, or the global list
// for an empty asset id.
type RecipientSource interface {
	ListRecipients(ctx context.Context, assetID string) ([]insurance.Recipient, error)
}

// Resolver decides who is notified about an asset.
type Resolver struct {
	Source RecipientSource
}

// Resolve returns the asset's own recipients when it has any, otherwise the
// global list. The result is never nil and holds each address once.
func (r *Resolver) Resolve(ctx context.Context, assetID string) ([]string, error) {
	if assetID != "" {
		scoped, err := r.Source.ListRecipients(ctx, assetID)
		if err != nil {
			return nil, err
		}
		if len(scoped) > 0 {
			return emails(scoped), nil
		}
	}

	global, err := r.Source.ListRecipients(ctx, "")
	if err != nil {
		return nil, err
	}
	return emails(global), nil
}

func emails(rs []insurance.Recipient) []string {
	out := make([]string, 0, len(rs))
	seen := make(map[string]bool, len(rs))
	for _, r := range rs {
		key := strings.ToLower(r.Email)
		if r.Email == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r.Email)
	}
	return out
}
