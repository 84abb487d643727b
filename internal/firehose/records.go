package firehose

// Collection NSIDs for the record kinds the decoder knows how to type.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionRepost = "app.bsky.feed.repost"
	CollectionFollow = "app.bsky.graph.follow"
)

// Record is a decoded repo record payload. It is a closed union: one of
// PostRecord, LikeRecord, RepostRecord, FollowRecord, or UnknownRecord for
// any kind the decoder does not model.
type Record interface {
	// NSID returns the record's collection NSID (its $type).
	NSID() string
}

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `cbor:"uri"`
	CID string `cbor:"cid"`
}

// ReplyRef contains references to the root and parent of a reply chain.
type ReplyRef struct {
	Root   StrongRef `cbor:"root"`
	Parent StrongRef `cbor:"parent"`
}

// PostRecord is the lightweight content of an app.bsky.feed.post record as
// carried on the wire. It lacks counts, labels, and viewer state; consumers
// wanting the enriched view must re-fetch the post by URI.
type PostRecord struct {
	Type      string    `cbor:"$type"`
	Text      string    `cbor:"text"`
	CreatedAt string    `cbor:"createdAt"`
	Langs     []string  `cbor:"langs"`
	Tags      []string  `cbor:"tags"`
	Reply     *ReplyRef `cbor:"reply"`
}

func (*PostRecord) NSID() string { return CollectionPost }

// LikeRecord is the content of an app.bsky.feed.like record.
type LikeRecord struct {
	Type      string    `cbor:"$type"`
	Subject   StrongRef `cbor:"subject"`
	CreatedAt string    `cbor:"createdAt"`
}

func (*LikeRecord) NSID() string { return CollectionLike }

// RepostRecord is the content of an app.bsky.feed.repost record.
type RepostRecord struct {
	Type      string    `cbor:"$type"`
	Subject   StrongRef `cbor:"subject"`
	CreatedAt string    `cbor:"createdAt"`
}

func (*RepostRecord) NSID() string { return CollectionRepost }

// FollowRecord is the content of an app.bsky.graph.follow record.
type FollowRecord struct {
	Type      string `cbor:"$type"`
	Subject   string `cbor:"subject"`
	CreatedAt string `cbor:"createdAt"`
}

func (*FollowRecord) NSID() string { return CollectionFollow }

// UnknownRecord carries the raw bytes of a record kind the decoder does not
// model.
type UnknownRecord struct {
	Type string
	Raw  []byte
}

func (r *UnknownRecord) NSID() string { return r.Type }

// CommitEvent is one decoded repo commit from the live subscription.
type CommitEvent struct {
	// Type is the fully qualified message type, the subscribed namespace
	// joined with the frame's type tag (e.g.
	// "com.atproto.sync.subscribeRepos#commit").
	Type   string
	Seq    int64
	Repo   string
	Commit string
	Rev    string
	Since  string
	Time   string
	TooBig bool
	Rebase bool
	Ops    []RepoOp
}

// RepoOp is one create/update/delete action within a commit. Payloads holds
// the records extracted from the commit's block archive; it is empty for
// deletes and for blocks that failed to decode.
type RepoOp struct {
	Action   string
	Path     string
	CID      string
	Payloads []Record
}

// Collection returns the collection NSID portion of the op's repo path.
func (op *RepoOp) Collection() string {
	for i := 0; i < len(op.Path); i++ {
		if op.Path[i] == '/' {
			return op.Path[:i]
		}
	}
	return op.Path
}

// OpFilter decides whether an operation is worth decoding. It runs before
// any block lookup; rejected operations are skipped entirely.
type OpFilter func(*CommitEvent, *RepoOp) bool
