package notifications

import "sort"

// mergeInput describes one fetched page being reconciled with local state.
type mergeInput struct {
	server   []Notification
	local    []Notification
	capacity int
	// keepLocal reports whether a local-only entry arrived after the fetch was issued.
	keepLocal func(id string) bool
	// markedRead reports whether the id was confirmed read locally.
	markedRead func(id string) bool
}

// mergePage unions the server page with local entries pushed after the fetch
// was issued. For ids present on both sides the newer created_at wins and ties
// prefer the server copy. Read state never reverts to unread.
func mergePage(in mergeInput) []Notification {
	localByID := make(map[string]Notification, len(in.local))
	for _, n := range in.local {
		localByID[n.ID] = n
	}

	out := make([]Notification, 0, len(in.server)+len(in.local))
	seen := make(map[string]struct{}, len(in.server)+len(in.local))

	for _, remote := range in.server {
		if remote.ID == "" {
			continue
		}
		if _, dup := seen[remote.ID]; dup {
			continue
		}
		seen[remote.ID] = struct{}{}

		chosen := remote.clone()
		if local, ok := localByID[remote.ID]; ok {
			if local.CreatedAt.After(remote.CreatedAt) {
				chosen = local.clone()
			}
			if local.IsRead || remote.IsRead {
				chosen.IsRead = true
			}
		}
		out = append(out, chosen)
	}

	for _, local := range in.local {
		if _, ok := seen[local.ID]; ok {
			continue
		}
		if in.keepLocal == nil || !in.keepLocal(local.ID) {
			continue
		}
		seen[local.ID] = struct{}{}
		out = append(out, local.clone())
	}

	if in.markedRead != nil {
		for i := range out {
			if in.markedRead(out[i].ID) {
				out[i].IsRead = true
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if in.capacity > 0 && len(out) > in.capacity {
		out = out[:in.capacity]
	}
	return out
}
