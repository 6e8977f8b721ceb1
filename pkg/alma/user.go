// Package alma is the client side of the Alma Users REST API: create,
// fetch, update and delete user records of one zone and environment.
//
// User records are kept as the raw JSON returned by Alma and edited in
// place with gjson/sjson, so fields this tool does not know about survive
// an update unchanged.
package alma

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SegmentInternal is the segment type of blocks that are copied on merge.
const SegmentInternal = "Internal"

// ErrUserNotFound is returned when a user record does not exist in a zone.
var ErrUserNotFound = errors.New("user not found")

// Client is the user directory. Implementations return an error wrapping
// ErrUserNotFound for missing records instead of an empty user.
type Client interface {
	// Create submits a new user record. A non-empty password is set on the record.
	Create(ctx context.Context, zone, env string, data []byte, password string) (*User, error)

	// Get fetches a user record by primary ID.
	Get(ctx context.Context, primaryID, zone, env string) (*User, error)

	// Update replaces the stored record with u's data.
	Update(ctx context.Context, u *User) error

	// Delete removes a user record.
	Delete(ctx context.Context, primaryID, zone, env string) error
}

// User is one user record of a zone and environment.
type User struct {
	PrimaryID string
	Zone      string
	Env       string

	data []byte
}

// NewUser wraps raw user JSON. The primary ID is read from the data when empty.
func NewUser(primaryID, zone, env string, data []byte) *User {
	if primaryID == "" {
		primaryID = gjson.GetBytes(data, "primary_id").String()
	}
	return &User{
		PrimaryID: primaryID,
		Zone:      zone,
		Env:       env,
		data:      append([]byte(nil), data...),
	}
}

// Data returns a copy of the record JSON.
func (u *User) Data() []byte {
	return append([]byte(nil), u.data...)
}

// Get returns a field of the record by gjson path.
func (u *User) Get(path string) gjson.Result {
	return gjson.GetBytes(u.data, path)
}

// Set replaces a field of the record by sjson path.
func (u *User) Set(path string, value interface{}) error {
	data, err := sjson.SetBytes(u.data, path, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	u.data = data
	return nil
}

// Block is one entry of the record's user_block list.
type Block struct {
	raw string
}

// NewBlock builds a block from its JSON form.
func NewBlock(raw string) Block {
	return Block{raw: raw}
}

// SegmentType returns the block's segment type, e.g. "Internal" or "External".
func (b Block) SegmentType() string {
	return gjson.Get(b.raw, "segment_type").String()
}

// Type returns the block type code.
func (b Block) Type() string {
	return gjson.Get(b.raw, "block_type.value").String()
}

// Raw returns the block JSON.
func (b Block) Raw() string {
	return b.raw
}

// key is the block JSON without insignificant whitespace.
func (b Block) key() string {
	return gjson.Get(b.raw, "@ugly").Raw
}

// Blocks returns the record's blocks in order.
func (u *User) Blocks() []Block {
	var blocks []Block
	gjson.GetBytes(u.data, "user_block").ForEach(func(_, value gjson.Result) bool {
		blocks = append(blocks, Block{raw: value.Raw})
		return true
	})
	return blocks
}

// AppendBlocks adds blocks at the end of the record's block list.
func (u *User) AppendBlocks(blocks ...Block) error {
	data := u.data
	if !gjson.GetBytes(data, "user_block").IsArray() {
		var err error
		if data, err = sjson.SetRawBytes(data, "user_block", []byte("[]")); err != nil {
			return fmt.Errorf("failed to initialize user_block: %w", err)
		}
	}

	for _, block := range blocks {
		var err error
		data, err = sjson.SetRawBytes(data, "user_block.-1", []byte(block.raw))
		if err != nil {
			return fmt.Errorf("failed to append block: %w", err)
		}
	}
	u.data = data
	return nil
}

// InternalBlocks filters blocks down to the Internal segment.
func InternalBlocks(blocks []Block) []Block {
	var internal []Block
	for _, block := range blocks {
		if block.SegmentType() == SegmentInternal {
			internal = append(internal, block)
		}
	}
	return internal
}

// MissingBlocks returns the blocks that are not already in have. Each block
// of have accounts for one identical block, so duplicates in blocks are kept
// as long as have holds fewer copies.
func MissingBlocks(have, blocks []Block) []Block {
	present := make(map[string]int, len(have))
	for _, block := range have {
		present[block.key()]++
	}

	var missing []Block
	for _, block := range blocks {
		k := block.key()
		if present[k] > 0 {
			present[k]--
			continue
		}
		missing = append(missing, block)
	}
	return missing
}
