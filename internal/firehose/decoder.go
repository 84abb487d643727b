package firehose

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
)

// eventNamespace is the subscribed repo-event namespace; frame type tags
// are fragments relative to it.
const eventNamespace = "com.atproto.sync.subscribeRepos"

const (
	opMessage = 1

	typeCommit = "#commit"
)

// cidLink is the content of a CBOR tag 42 link: a multibase identity
// prefix byte followed by the binary CID.
type cidLink []byte

func (l cidLink) cid() (cid.Cid, error) {
	if len(l) < 2 || l[0] != 0x00 {
		return cid.Undef, fmt.Errorf("malformed cid link")
	}
	return cid.Cast([]byte(l[1:]))
}

func atprotoTags() cbor.TagSet {
	tags := cbor.NewTagSet()
	err := tags.Add(
		cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired},
		reflect.TypeOf(cidLink(nil)),
		42,
	)
	if err != nil {
		panic(err)
	}
	return tags
}

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{}.DecModeWithTags(atprotoTags())
	if err != nil {
		panic(err)
	}
	return dm
}()

// frameHeader is the first CBOR data item of every frame.
type frameHeader struct {
	Op int64  `cbor:"op"`
	T  string `cbor:"t"`
}

// errorBody is the payload of an error frame (op != 1).
type errorBody struct {
	Error   string `cbor:"error"`
	Message string `cbor:"message"`
}

// commitPayload is the wire form of a #commit message body.
type commitPayload struct {
	Seq    int64      `cbor:"seq"`
	Rebase bool       `cbor:"rebase"`
	TooBig bool       `cbor:"tooBig"`
	Repo   string     `cbor:"repo"`
	Commit cidLink    `cbor:"commit"`
	Rev    string     `cbor:"rev"`
	Since  *string    `cbor:"since"`
	Blocks []byte     `cbor:"blocks"`
	Ops    []commitOp `cbor:"ops"`
	Time   string     `cbor:"time"`
}

// commitOp is one wire-level repo operation. CID is nil for deletes.
type commitOp struct {
	Action string   `cbor:"action"`
	Path   string   `cbor:"path"`
	CID    *cidLink `cbor:"cid"`
}

// DecodeFrame decodes a raw binary frame from the live subscription.
//
// A frame is two CBOR data items: a header with an operation discriminator
// and type tag, then a payload. Commit frames yield a *CommitEvent with
// each create/update op's record extracted from the commit's block archive.
// Housekeeping frames (identity, account, handle changes and the like)
// yield (nil, nil) and should be dropped silently. Error frames and
// undecodable headers/payloads return an error, which is fatal for the
// connection that produced the frame.
//
// Per-operation decode failures inside a commit are swallowed: a malformed
// archive or record block leaves that op's payload list empty, never an
// error. An optional filter runs before block extraction; rejected ops are
// skipped entirely.
func DecodeFrame(data []byte, filter OpFilter) (*CommitEvent, error) {
	dec := decMode.NewDecoder(bytes.NewReader(data))

	var hdr frameHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}

	if hdr.Op != opMessage {
		var body errorBody
		if err := dec.Decode(&body); err != nil || body.Error == "" {
			return nil, fmt.Errorf("stream error frame (op %d)", hdr.Op)
		}
		return nil, fmt.Errorf("stream error %s: %s", body.Error, body.Message)
	}

	if hdr.T != typeCommit {
		return nil, nil
	}

	var payload commitPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode commit payload: %w", err)
	}

	evt := &CommitEvent{
		Type:   eventNamespace + hdr.T,
		Seq:    payload.Seq,
		Repo:   payload.Repo,
		Rev:    payload.Rev,
		Time:   payload.Time,
		TooBig: payload.TooBig,
		Rebase: payload.Rebase,
	}
	if payload.Since != nil {
		evt.Since = *payload.Since
	}
	if c, err := payload.Commit.cid(); err == nil {
		evt.Commit = c.String()
	}

	// The archive is only read once a passing create/update op needs it.
	var archive map[string][]byte

	evt.Ops = make([]RepoOp, 0, len(payload.Ops))
	for _, raw := range payload.Ops {
		op := RepoOp{Action: raw.Action, Path: raw.Path}
		if raw.CID != nil {
			if c, err := raw.CID.cid(); err == nil {
				op.CID = c.String()
			}
		}

		if filter != nil && !filter(evt, &op) {
			continue
		}

		if (op.Action == "create" || op.Action == "update") && op.CID != "" {
			if archive == nil {
				archive = readBlockArchive(payload.Blocks)
			}
			if blockData, ok := archive[op.CID]; ok {
				if rec, err := decodeRecord(blockData); err == nil {
					op.Payloads = append(op.Payloads, rec)
				}
			}
		}

		evt.Ops = append(evt.Ops, op)
	}

	return evt, nil
}

// readBlockArchive reads a CAR block archive into a CID-keyed map. Any
// malformation stops reading and returns whatever was recovered so far;
// missing blocks simply leave the affected ops without payloads.
func readBlockArchive(blocks []byte) map[string][]byte {
	archive := make(map[string][]byte)
	if len(blocks) == 0 {
		return archive
	}

	cr, err := car.NewCarReader(bytes.NewReader(blocks))
	if err != nil {
		return archive
	}
	for {
		blk, err := cr.Next()
		if err != nil {
			return archive
		}
		archive[blk.Cid().String()] = blk.RawData()
	}
}

// decodeRecord decodes one DAG-CBOR record block into its typed form,
// dispatching on the $type field. Kinds outside the known set come back as
// UnknownRecord.
func decodeRecord(data []byte) (Record, error) {
	var probe struct {
		Type string `cbor:"$type"`
	}
	if err := decMode.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode record type: %w", err)
	}

	switch probe.Type {
	case CollectionPost:
		var r PostRecord
		if err := decMode.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode post record: %w", err)
		}
		return &r, nil
	case CollectionLike:
		var r LikeRecord
		if err := decMode.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode like record: %w", err)
		}
		return &r, nil
	case CollectionRepost:
		var r RepostRecord
		if err := decMode.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode repost record: %w", err)
		}
		return &r, nil
	case CollectionFollow:
		var r FollowRecord
		if err := decMode.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode follow record: %w", err)
		}
		return &r, nil
	default:
		return &UnknownRecord{Type: probe.Type, Raw: data}, nil
	}
}
