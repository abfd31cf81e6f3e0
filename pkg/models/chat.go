package models

type Chat struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	// Owner is an opaque identity id provided by the auth collaborator;
	// it only scopes chat listings, nothing else interprets it.
	Owner string `json:"owner,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Updated timestamp (ns) - last time metadata or chat activity changed
	UpdatedTS int64 `json:"updated_ts,omitempty"`
}
