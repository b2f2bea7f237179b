package domain

// EngagementState est l'état d'un viewer sur un item (lu en batch, jamais déduit)
type EngagementState struct {
	Liked      bool
	Bookmarked bool
	Reposted   bool
}

type Preferences struct {
	ToolIDs  []string
	StackIDs []string
}

// ViewerContext décrit l'utilisateur qui demande le feed.
// ViewerID vide = visiteur anonyme.
type ViewerContext struct {
	ViewerID  string
	Following map[string]struct{}
	ToolIDs   map[string]struct{}
	StackIDs  map[string]struct{}
}

func AnonymousViewer() ViewerContext {
	return ViewerContext{}
}

func (v ViewerContext) Authenticated() bool {
	return v.ViewerID != ""
}

func (v ViewerContext) Follows(authorID string) bool {
	_, ok := v.Following[authorID]
	return ok
}

// NewViewerContext construit les sets à partir des listes renvoyées par les stores
func NewViewerContext(viewerID string, following []string, prefs Preferences) ViewerContext {
	return ViewerContext{
		ViewerID:  viewerID,
		Following: toSet(following),
		ToolIDs:   toSet(prefs.ToolIDs),
		StackIDs:  toSet(prefs.StackIDs),
	}
}

// Overlap compte les tags présents dans le set (doublons ignorés)
func Overlap(tags []string, set map[string]struct{}) int {
	if len(set) == 0 || len(tags) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(tags))
	n := 0
	for _, t := range tags {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
