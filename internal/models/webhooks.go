package models

// WebhookSubscription is one registered callback URL for a session.
type WebhookSubscription struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// Accepts reports whether the subscription wants the given event kind.
func (s WebhookSubscription) Accepts(kind string) bool {
	for _, e := range s.Events {
		if e == kind {
			return true
		}
	}
	return false
}

// WebhookTable maps a session id to its ordered subscriptions. It is
// persisted and replaced as a whole.
type WebhookTable map[string][]WebhookSubscription

// Clone returns a deep copy of the table.
func (t WebhookTable) Clone() WebhookTable {
	out := make(WebhookTable, len(t))
	for id, subs := range t {
		cp := make([]WebhookSubscription, len(subs))
		for i, s := range subs {
			cp[i] = WebhookSubscription{URL: s.URL, Events: append([]string(nil), s.Events...)}
		}
		out[id] = cp
	}
	return out
}
