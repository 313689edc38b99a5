package transcript

import (
	"encoding/json"
	"errors"
	"strings"
)

// BodyKind distinguishes plain text from structured message content.
type BodyKind int

const (
	TextBody BodyKind = iota
	PostBody
)

// SharedPost is the preview of a food offer or request that a participant
// forwarded into the conversation.
type SharedPost struct {
	Title       string   `json:"title"`
	Images      string   `json:"images"`
	PostedOn    int64    `json:"postedOn"`
	PostedBy    int64    `json:"postedBy"`
	Description string   `json:"description"`
	PostID      int64    `json:"postId"`
	Username    string   `json:"username"`
	ExpiryDate  string   `json:"expiryDate"`
	Distance    *float64 `json:"distance"`
	Logistics   []string `json:"logistics"`
	Categories  []string `json:"categories"`
	Diet        []string `json:"diet"`
	AccessNeeds string   `json:"accessNeeds"`
	PostalCode  string   `json:"postalCode"`
	Type        string   `json:"type"`
}

// IsRequest reports whether the post asks for food rather than offering it.
func (p *SharedPost) IsRequest() bool {
	return p.Type == "r"
}

// Body is the parsed content of a message.
type Body struct {
	Kind BodyKind
	Text string
	Post *SharedPost
}

// ParseBody treats raw as a shared post when it starts with '{' and is a
// well-formed JSON object. Anything else is plain text. Fields of the wrong
// type are left zero rather than demoting the post to text.
func ParseBody(raw string) Body {
	if !strings.HasPrefix(raw, "{") {
		return Body{Kind: TextBody, Text: raw}
	}
	data := []byte(raw)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return Body{Kind: TextBody, Text: raw}
	}
	var post SharedPost
	var typeErr *json.UnmarshalTypeError
	if err := json.Unmarshal(data, &post); err != nil && !errors.As(err, &typeErr) {
		return Body{Kind: TextBody, Text: raw}
	}
	return Body{Kind: PostBody, Text: raw, Post: &post}
}

// EncodePost serializes a post so that ParseBody recognizes it.
func EncodePost(p *SharedPost) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
