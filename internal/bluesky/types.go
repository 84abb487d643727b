package bluesky

import (
	"fmt"
	"strings"
)

// PostRef is the minimal identifier needed to reply to or quote a post.
type PostRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef contains references to the root and parent of a reply chain.
type ReplyRef struct {
	Root   PostRef `json:"root"`
	Parent PostRef `json:"parent"`
}

// ProfileView is a detailed actor profile as returned by the profile
// endpoints and embedded in post views.
type ProfileView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Description string `json:"description,omitempty"`
}

// ByteSlice is a byte range into a post's UTF-8 text.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature is one rich-text annotation. Exactly one of URI, Tag, or DID
// is set depending on Type (link, tag, or mention).
type FacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
	DID  string `json:"did,omitempty"`
}

// Facet is a rich-text span (mention, link, or tag) over a byte range.
type Facet struct {
	Index    ByteSlice      `json:"index"`
	Features []FacetFeature `json:"features"`
}

// EmbedImage is a single image in an image-set embed view.
type EmbedImage struct {
	Thumb    string `json:"thumb"`
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt,omitempty"`
}

// EmbedExternal is an external link card embed view.
type EmbedExternal struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Thumb       string `json:"thumb,omitempty"`
}

// EmbedRecord is a quoted record embed view.
type EmbedRecord struct {
	URI    string       `json:"uri"`
	CID    string       `json:"cid"`
	Author *ProfileView `json:"author,omitempty"`
	Value  *PostBody    `json:"value,omitempty"`
}

// Embed is the view of a post's embedded content. The Type discriminator
// decides which of the remaining fields is populated: an external link
// card, an image set, a quoted record, or a quoted record with media.
type Embed struct {
	Type     string         `json:"$type"`
	External *EmbedExternal `json:"external,omitempty"`
	Images   []EmbedImage   `json:"images,omitempty"`
	Record   *EmbedRecord   `json:"record,omitempty"`
	Media    *Embed         `json:"media,omitempty"`
}

// Label is a content label attached to a post (e.g. sensitive-content flags).
type Label struct {
	Src string `json:"src"`
	URI string `json:"uri"`
	Val string `json:"val"`
}

// ViewerState holds the requesting user's relationship to a post. The Like
// and Repost fields are record URIs when the viewer has liked or reposted.
type ViewerState struct {
	Like   string `json:"like,omitempty"`
	Repost string `json:"repost,omitempty"`
}

// PostBody is the post record proper: the user-authored content, as opposed
// to the server-enriched view around it.
type PostBody struct {
	Type      string    `json:"$type,omitempty"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Langs     []string  `json:"langs,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Facets    []Facet   `json:"facets,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty"`
}

// PostView is the enriched post view returned by getPosts: the record plus
// author profile, counts, labels, and viewer-relative state. Views are not
// mutated after fetch except to attach viewer state following a local
// interaction.
type PostView struct {
	URI         string       `json:"uri"`
	CID         string       `json:"cid"`
	Author      ProfileView  `json:"author"`
	Record      PostBody     `json:"record"`
	Embed       *Embed       `json:"embed,omitempty"`
	ReplyCount  int          `json:"replyCount"`
	RepostCount int          `json:"repostCount"`
	LikeCount   int          `json:"likeCount"`
	IndexedAt   string       `json:"indexedAt"`
	Labels      []Label      `json:"labels,omitempty"`
	Viewer      *ViewerState `json:"viewer,omitempty"`
}

// Ref returns the post's strong reference.
func (p *PostView) Ref() PostRef {
	return PostRef{URI: p.URI, CID: p.CID}
}

// SearchHit is a raw historical search result. The TID is the record path
// under the author's repo (collection/rkey).
type SearchHit struct {
	TID  string `json:"tid"`
	CID  string `json:"cid"`
	User struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
	} `json:"user"`
	Post struct {
		CreatedAt int64  `json:"createdAt"`
		Text      string `json:"text"`
	} `json:"post"`
}

// URI returns the AT-URI of the post this hit refers to.
func (h *SearchHit) URI() string {
	tid := h.TID
	if !strings.Contains(tid, "/") {
		tid = "app.bsky.feed.post/" + tid
	}
	return fmt.Sprintf("at://%s/%s", h.User.DID, tid)
}

// ParseATURI splits an at://<did>/<collection>/<rkey> URI into its parts.
func ParseATURI(uri string) (did, collection, rkey string, err error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return "", "", "", fmt.Errorf("not an at:// URI: %s", uri)
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed at:// URI: %s", uri)
	}
	return parts[0], parts[1], parts[2], nil
}
