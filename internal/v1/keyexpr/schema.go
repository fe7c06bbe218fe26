// Package keyexpr parses and formats the four key-expression patterns
// that make up the arena's entire routing surface:
//
//	<prefix>/node/<id>          — a node exists by this name
//	<prefix>/host/<id>          — that node currently plays the Host role
//	<prefix>/client/<id>        — that node currently plays the Client role
//	<prefix>/link/<src>/<dst>   — a directed message or query from src to dst
//
// Any id segment may be "*" to denote a wildcard. No other roles or
// shapes are recognized; the core never creates or subscribes to any
// key expression outside this surface.
package keyexpr

import (
	"fmt"
	"strings"

	"github.com/arenamesh/zarena/internal/v1/arenaerr"
)

// Role identifies which of the four canonical patterns a key expression
// encodes.
type Role int

const (
	// RoleNode addresses a node's bare presence claim.
	RoleNode Role = iota
	// RoleHost addresses a node currently playing Host.
	RoleHost
	// RoleClient addresses a node currently playing Client.
	RoleClient
	// RoleLink addresses a directed message/query between two nodes.
	RoleLink
)

// String returns the wire segment for the role ("node", "host",
// "client", "link").
func (r Role) String() string {
	switch r {
	case RoleNode:
		return "node"
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	case RoleLink:
		return "link"
	default:
		return "unknown"
	}
}

func roleFromString(s string) (Role, bool) {
	switch s {
	case "node":
		return RoleNode, true
	case "host":
		return RoleHost, true
	case "client":
		return RoleClient, true
	case "link":
		return RoleLink, true
	default:
		return 0, false
	}
}

// hasSecondID reports whether the role's pattern carries two id
// segments (only Link does).
func (r Role) hasSecondID() bool {
	return r == RoleLink
}

// forbiddenChars are the characters a NodeId may never contain, since
// they are meaningful to the key-expression grammar or transport glob
// syntax.
const forbiddenChars = "/*$?#@"

// ValidateID reports an error if id is empty or contains any character
// from forbiddenChars. The wildcard "*" is accepted by this function
// but callers that need a concrete (non-wildcard) id should check for
// it separately — Format/Parse treat "*" specially.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", arenaerr.ErrInvalidNodeName)
	}
	if id == "*" {
		return nil
	}
	if strings.ContainsAny(id, forbiddenChars) {
		return fmt.Errorf("%w: id %q contains a forbidden character", arenaerr.ErrInvalidNodeName, id)
	}
	return nil
}

// Format serializes prefix/role/id1/id2 into the canonical string form.
// id1 and id2 are formatted as "*" when nil. Link requires both id
// pointers be non-nil or a literal wildcard; every other role accepts
// exactly one id and id2 must be nil.
func Format(prefix string, role Role, id1, id2 *string) (string, error) {
	if role.hasSecondID() {
		s1 := "*"
		if id1 != nil {
			if err := ValidateID(*id1); err != nil {
				return "", err
			}
			s1 = *id1
		}
		s2 := "*"
		if id2 != nil {
			if err := ValidateID(*id2); err != nil {
				return "", err
			}
			s2 = *id2
		}
		return fmt.Sprintf("%s/%s/%s/%s", prefix, role, s1, s2), nil
	}

	if id2 != nil {
		return "", fmt.Errorf("%w: role %s takes exactly one id", arenaerr.ErrInvalidKeyExpr, role)
	}
	s1 := "*"
	if id1 != nil {
		if err := ValidateID(*id1); err != nil {
			return "", err
		}
		s1 = *id1
	}
	return fmt.Sprintf("%s/%s/%s", prefix, role, s1), nil
}

// Parsed is the decomposition of a key expression into its constituent
// parts. ID1/ID2 are nil when the corresponding segment was "*". ID2 is
// always nil for non-Link roles.
type Parsed struct {
	Prefix string
	Role   Role
	ID1    *string
	ID2    *string
}

// Parse decomposes a key-expression string into its prefix, role and
// ids. The trailing two or three segments are interpreted role-first
// (Link consumes three trailing segments, everything else consumes
// two); everything before that is the prefix, so prefixes may
// themselves contain "/". Parse fails if no canonical pattern matches
// or if a non-wildcard id segment contains a forbidden character.
func Parse(s string) (Parsed, error) {
	parts := strings.Split(s, "/")

	// Link is tried first since it needs one more trailing segment;
	// a prefix could otherwise be misread as an extra id.
	if len(parts) >= 4 {
		if role, ok := roleFromString(parts[len(parts)-3]); ok && role.hasSecondID() {
			prefix := strings.Join(parts[:len(parts)-3], "/")
			id1, err := wildcardOrID(parts[len(parts)-2])
			if err != nil {
				return Parsed{}, err
			}
			id2, err := wildcardOrID(parts[len(parts)-1])
			if err != nil {
				return Parsed{}, err
			}
			return Parsed{Prefix: prefix, Role: role, ID1: id1, ID2: id2}, nil
		}
	}

	if len(parts) >= 3 {
		if role, ok := roleFromString(parts[len(parts)-2]); ok && !role.hasSecondID() {
			prefix := strings.Join(parts[:len(parts)-2], "/")
			id1, err := wildcardOrID(parts[len(parts)-1])
			if err != nil {
				return Parsed{}, err
			}
			return Parsed{Prefix: prefix, Role: role, ID1: id1}, nil
		}
	}

	return Parsed{}, fmt.Errorf("%w: %q matches no canonical pattern", arenaerr.ErrInvalidKeyExpr, s)
}

func wildcardOrID(segment string) (*string, error) {
	if segment == "*" {
		return nil, nil
	}
	if err := ValidateID(segment); err != nil {
		return nil, err
	}
	s := segment
	return &s, nil
}
